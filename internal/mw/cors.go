package mw

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS handles cross-origin requests ahead of the gateway pipeline.
// Preflights are answered here and never reach an upstream. Allowed
// methods and headers are fixed; only origins are configurable.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-XSRF-TOKEN", "Accept", "Origin", "X-Requested-With", "X-User-Id", "X-User-Role", "X-User-Plan"},
		ExposedHeaders:   []string{"X-User-Id", "X-User-Role", "X-User-Plan"},
		AllowCredentials: true,
		MaxAge:           3600,
	})
	return c.Handler
}
