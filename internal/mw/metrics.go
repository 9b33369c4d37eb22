package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "Requests handled, labelled by resolved project.",
	}, []string{"project", "method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "End-to-end request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"project", "method"})
)

// Instrument records request count and latency per project.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &httpx.StatusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		status := sw.Status
		if status == 0 {
			status = http.StatusOK
		}
		project := ProjectName(r.Context())
		requestsTotal.WithLabelValues(project, r.Method, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(project, r.Method).Observe(time.Since(start).Seconds())
	})
}
