package mw

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

// Recover converts handler panics into a 500 envelope when the response is
// still uncommitted.
func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &httpx.StatusWriter{ResponseWriter: w}
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered",
						slog.String("rid", GetRequestID(r.Context())),
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
					)
					if !sw.Committed() {
						httpx.WriteError(sw, http.StatusInternalServerError, "An unexpected error occurred.", r.URL.Path)
					}
				}
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
