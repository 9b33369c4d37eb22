package mw

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

// AccessLog emits one structured line per completed request.
func AccessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &httpx.StatusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)

			status := sw.Status
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request",
				slog.String("rid", GetRequestID(r.Context())),
				slog.String("project", ProjectName(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", status),
				slog.Int("bytes", sw.Bytes),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
