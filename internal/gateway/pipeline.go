// Package gateway orchestrates the per-request pipeline: resolve the
// project, check CSRF, authenticate, rate limit, then forward through the
// project's circuit breaker.
package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/myinfra/smart-api-gateway/internal/breaker"
	"github.com/myinfra/smart-api-gateway/internal/config"
	"github.com/myinfra/smart-api-gateway/internal/httpx"
	"github.com/myinfra/smart-api-gateway/internal/identity"
	"github.com/myinfra/smart-api-gateway/internal/mw"
	"github.com/myinfra/smart-api-gateway/internal/ratelimit"
	"github.com/myinfra/smart-api-gateway/internal/registry"
)

type Authenticator interface {
	Authenticate(r *http.Request, proj *config.Project) (identity.Identity, bool)
}

type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, proj *config.Project, id identity.Identity) error
}

type Gateway struct {
	Registry *registry.Registry
	Auth     Authenticator
	Limiter  ratelimit.Limiter
	Breakers *breaker.Pool
	Proxy    Forwarder
	IPs      mw.IPResolver
	Log      *slog.Logger
}

// Methods that mutate state and therefore need a CSRF token when the
// project demands one.
func isWriteMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sw := &httpx.StatusWriter{ResponseWriter: w}
	path := r.URL.Path

	proj := g.Registry.Resolve(path)
	if proj == nil {
		g.fail(sw, r, http.StatusNotFound, "No project is configured for this path.")
		return
	}
	mw.SetProject(r.Context(), proj.Prefix)

	if proj.CSRFRequired && isWriteMethod(r.Method) && strings.TrimSpace(r.Header.Get("X-XSRF-TOKEN")) == "" {
		g.fail(sw, r, http.StatusForbidden, "CSRF token is missing.")
		return
	}

	id, ok := g.Auth.Authenticate(r, proj)
	if !ok {
		if !isPublicPath(proj, path) {
			g.fail(sw, r, http.StatusUnauthorized, "Full authentication is required to access this resource.")
			return
		}
		id = identity.Anonymous
	}

	if rl := proj.RateLimit; rl != nil {
		key := ratelimit.BucketKey(proj.Prefix, id.ID, g.IPs.ClientIP(r))
		dec, err := g.Limiter.Allow(r.Context(), key, rl.Capacity, rl.RefillRate, 1)
		switch {
		case err != nil:
			// Limiter outage fails open; the request proceeds unthrottled.
			g.Log.Warn("rate limiter unavailable",
				slog.String("project", proj.Prefix),
				slog.String("error", err.Error()))
		case !dec.Allowed:
			g.fail(sw, r, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
	}

	b := g.Breakers.Get(proj.Prefix, breakerConfig(proj.CircuitBreaker))
	err := b.Execute(func() error {
		return g.Proxy.Forward(sw, r, proj, id)
	})
	if err != nil {
		status, msg := Classify(err)
		g.failErr(sw, r, status, msg, err)
	}
}

// fail writes the error envelope unless the response is already committed.
func (g *Gateway) fail(sw *httpx.StatusWriter, r *http.Request, status int, msg string) {
	g.failErr(sw, r, status, msg, nil)
}

func (g *Gateway) failErr(sw *httpx.StatusWriter, r *http.Request, status int, msg string, cause error) {
	attrs := []any{
		slog.String("project", mw.ProjectName(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	if status >= 500 {
		g.Log.Error("request failed", attrs...)
	} else {
		g.Log.Warn("request rejected", attrs...)
	}

	if sw.Committed() {
		// Headers and possibly part of the body already reached the client;
		// writing an envelope now would corrupt the stream.
		return
	}
	httpx.WriteError(sw, status, msg, r.URL.Path)
}

// isPublicPath matches the full request path against the project's
// Ant-style patterns. Invalid patterns never match.
func isPublicPath(proj *config.Project, path string) bool {
	for _, pat := range proj.PublicPaths {
		if pat == "" {
			continue
		}
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

func breakerConfig(cfg *config.CircuitBreakerConfig) breaker.Config {
	if cfg == nil {
		return breaker.Config{}
	}
	return breaker.Config{
		FailureRateThreshold:   cfg.FailureRateThreshold,
		SlidingWindowSize:      cfg.SlidingWindowSize,
		WaitDuration:           cfg.WaitDuration.Std(),
		HalfOpenPermittedCalls: cfg.PermittedCallsInHalfOpen,
	}
}
