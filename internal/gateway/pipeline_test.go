package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/myinfra/smart-api-gateway/internal/breaker"
	"github.com/myinfra/smart-api-gateway/internal/config"
	"github.com/myinfra/smart-api-gateway/internal/httpx"
	"github.com/myinfra/smart-api-gateway/internal/identity"
	"github.com/myinfra/smart-api-gateway/internal/mw"
	"github.com/myinfra/smart-api-gateway/internal/ratelimit"
	"github.com/myinfra/smart-api-gateway/internal/registry"
)

type fakeAuth struct {
	id identity.Identity
	ok bool
}

func (f fakeAuth) Authenticate(*http.Request, *config.Project) (identity.Identity, bool) {
	return f.id, f.ok
}

type fakeLimiter struct {
	dec     ratelimit.Decision
	err     error
	lastKey string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int64, _ float64, _ int) (ratelimit.Decision, error) {
	f.lastKey = key
	return f.dec, f.err
}

func (f *fakeLimiter) Close() error { return nil }

type fakeForwarder struct {
	err    error
	called int
	id     identity.Identity
}

func (f *fakeForwarder) Forward(w http.ResponseWriter, _ *http.Request, _ *config.Project, id identity.Identity) error {
	f.called++
	f.id = id
	if f.err != nil {
		return f.err
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("upstream"))
	return nil
}

func newGateway(projects map[string]*config.Project, auth Authenticator, lim ratelimit.Limiter, fwd Forwarder) *Gateway {
	return &Gateway{
		Registry: registry.New(projects),
		Auth:     auth,
		Limiter:  lim,
		Breakers: breaker.NewPool(),
		Proxy:    fwd,
		IPs:      mw.IPResolver{},
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestPipelineUnknownPrefixIs404(t *testing.T) {
	gw := newGateway(map[string]*config.Project{
		"shop": {Prefix: "/shop", TargetURL: "http://up", AuthType: config.AuthTypeToken},
	}, fakeAuth{}, &fakeLimiter{}, &fakeForwarder{})

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Status != 404 || env.Error != "Not Found" || env.Path != "/nope" {
		t.Fatalf("envelope = %#v", env)
	}
}

func TestPipelineMissingCSRFTokenIs403(t *testing.T) {
	fwd := &fakeForwarder{}
	gw := newGateway(map[string]*config.Project{
		"secure": {Prefix: "/secure", TargetURL: "http://up", AuthType: config.AuthTypeSession, CSRFRequired: true},
	}, fakeAuth{id: identity.Identity{ID: "u1"}, ok: true}, &fakeLimiter{}, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("POST", "http://gw/secure/x", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if fwd.called != 0 {
		t.Fatal("request must not reach the forwarder")
	}
}

func TestPipelineCSRFOnlyGuardsWriteMethods(t *testing.T) {
	fwd := &fakeForwarder{}
	gw := newGateway(map[string]*config.Project{
		"secure": {Prefix: "/secure", TargetURL: "http://up", AuthType: config.AuthTypeSession, CSRFRequired: true},
	}, fakeAuth{id: identity.Identity{ID: "u1"}, ok: true}, &fakeLimiter{}, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/secure/x", nil))

	if rec.Code != http.StatusOK || fwd.called != 1 {
		t.Fatalf("GET must pass without token: status=%d called=%d", rec.Code, fwd.called)
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://gw/secure/x", nil)
	r.Header.Set("X-XSRF-TOKEN", "tok")
	gw.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST with token should pass, status=%d", rec.Code)
	}
}

func TestPipelineAbsentIdentityIs401(t *testing.T) {
	gw := newGateway(map[string]*config.Project{
		"shop": {Prefix: "/shop", TargetURL: "http://up", AuthType: config.AuthTypeToken},
	}, fakeAuth{}, &fakeLimiter{}, &fakeForwarder{})

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/shop/items", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error != "Unauthorized" || env.Path != "/shop/items" {
		t.Fatalf("envelope = %#v", env)
	}
}

func TestPipelinePublicPathGetsAnonymousIdentity(t *testing.T) {
	fwd := &fakeForwarder{}
	gw := newGateway(map[string]*config.Project{
		"shop": {
			Prefix:      "/shop",
			TargetURL:   "http://up",
			AuthType:    config.AuthTypeToken,
			PublicPaths: []string{"/shop/health", "/shop/public/**"},
		},
	}, fakeAuth{}, &fakeLimiter{}, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/shop/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fwd.id != identity.Anonymous {
		t.Fatalf("identity = %#v", fwd.id)
	}

	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/shop/public/a/b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("** glob should match, status = %d", rec.Code)
	}
}

func TestPipelineRateLimitDenialIs429(t *testing.T) {
	lim := &fakeLimiter{dec: ratelimit.Decision{Allowed: false}}
	fwd := &fakeForwarder{}
	gw := newGateway(map[string]*config.Project{
		"api": {
			Prefix:    "/api",
			TargetURL: "http://up",
			AuthType:  config.AuthTypeToken,
			RateLimit: &config.RateLimitConfig{Capacity: 3, RefillRate: 0},
		},
	}, fakeAuth{id: identity.Identity{ID: "u1", Role: "ROLE_USER", Plan: "FREE"}, ok: true}, lim, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/api/x", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if fwd.called != 0 {
		t.Fatal("denied request must not be forwarded")
	}
	if lim.lastKey != "rate_limit:/api:user:u1" {
		t.Fatalf("bucket key = %q", lim.lastKey)
	}
}

func TestPipelineLimiterOutageFailsOpen(t *testing.T) {
	lim := &fakeLimiter{err: errors.New("store down")}
	fwd := &fakeForwarder{}
	gw := newGateway(map[string]*config.Project{
		"api": {
			Prefix:    "/api",
			TargetURL: "http://up",
			AuthType:  config.AuthTypeToken,
			RateLimit: &config.RateLimitConfig{Capacity: 3, RefillRate: 0},
		},
	}, fakeAuth{id: identity.Identity{ID: "u1"}, ok: true}, lim, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/api/x", nil))

	if rec.Code != http.StatusOK || fwd.called != 1 {
		t.Fatalf("fail-open broken: status=%d called=%d", rec.Code, fwd.called)
	}
}

func TestPipelineAnonymousUsesIPBucket(t *testing.T) {
	lim := &fakeLimiter{dec: ratelimit.Decision{Allowed: true}}
	gw := newGateway(map[string]*config.Project{
		"api": {
			Prefix:      "/api",
			TargetURL:   "http://up",
			AuthType:    config.AuthTypeToken,
			PublicPaths: []string{"/api/**"},
			RateLimit:   &config.RateLimitConfig{Capacity: 3, RefillRate: 0},
		},
	}, fakeAuth{}, lim, &fakeForwarder{})

	r := httptest.NewRequest("GET", "http://gw/api/x", nil)
	r.RemoteAddr = "203.0.113.9:4321"
	gw.ServeHTTP(httptest.NewRecorder(), r)

	if lim.lastKey != "rate_limit:/api:ip:203.0.113.9" {
		t.Fatalf("bucket key = %q", lim.lastKey)
	}
}

func TestPipelineBreakerOpens(t *testing.T) {
	fwd := &fakeForwarder{err: &httpx.StatusError{Status: 502, Message: "upstream broke"}}
	gw := newGateway(map[string]*config.Project{
		"api": {
			Prefix:    "/api",
			TargetURL: "http://up",
			AuthType:  config.AuthTypeToken,
			CircuitBreaker: &config.CircuitBreakerConfig{
				FailureRateThreshold:     100,
				SlidingWindowSize:        2,
				WaitDuration:             config.Duration(time.Minute),
				PermittedCallsInHalfOpen: 1,
			},
		},
	}, fakeAuth{id: identity.Identity{ID: "u1"}, ok: true}, &fakeLimiter{}, fwd)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/api/x", nil))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("call %d: status = %d", i, rec.Code)
		}
	}

	// The window is full of failures; the breaker now short-circuits.
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/api/x", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "Service is temporarily unavailable. Circuit breaker is open." {
		t.Fatalf("message = %q", env.Message)
	}
	if fwd.called != 2 {
		t.Fatalf("forwarder called %d times", fwd.called)
	}
}

func TestPipelineCommittedResponseGetsNoEnvelope(t *testing.T) {
	fwd := &commitThenFail{}
	gw := newGateway(map[string]*config.Project{
		"api": {Prefix: "/api", TargetURL: "http://up", AuthType: config.AuthTypeToken},
	}, fakeAuth{id: identity.Identity{ID: "u1"}, ok: true}, &fakeLimiter{}, fwd)

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "http://gw/api/x", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Fatalf("body = %q, envelope must not be appended", rec.Body.String())
	}
}

type commitThenFail struct{}

func (commitThenFail) Forward(w http.ResponseWriter, _ *http.Request, _ *config.Project, _ identity.Identity) error {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("partial"))
	return errors.New("stream aborted mid-body")
}
