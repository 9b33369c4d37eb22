package mw

import (
	"crypto/subtle"
	"net/http"

	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

// RequireAdminKey guards the admin surface. With an empty key the surface
// is disabled entirely.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				httpx.WriteError(w, http.StatusNotFound, "No project is configured for this path.", r.URL.Path)
				return
			}
			got := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpx.WriteError(w, http.StatusForbidden, "Admin key is missing or invalid.", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
