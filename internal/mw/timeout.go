package mw

import (
	"context"
	"net/http"
	"time"
)

// GlobalTimeout bounds the whole request context. Per-project time limiters
// layer a shorter deadline inside it. A zero duration disables the bound.
func GlobalTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
