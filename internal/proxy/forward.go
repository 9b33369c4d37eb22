// Package proxy forwards admitted requests to the project's upstream,
// streaming both bodies without buffering.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/myinfra/smart-api-gateway/internal/config"
	"github.com/myinfra/smart-api-gateway/internal/httpx"
	"github.com/myinfra/smart-api-gateway/internal/identity"
)

// Headers never forwarded in either direction, lowercase. X-User-* is
// handled separately so clients cannot spoof identity.
var ignoredHeaders = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"keep-alive":          {},
	"transfer-encoding":   {},
	"content-length":      {},
	"proxy-authorization": {},
	"proxy-authenticate":  {},
}

func isIgnoredHeader(key string) bool {
	l := strings.ToLower(key)
	if _, ok := ignoredHeaders[l]; ok {
		return true
	}
	return strings.HasPrefix(l, "x-user-")
}

type Forwarder struct {
	client *http.Client
	log    *slog.Logger
}

func NewForwarder(transport http.RoundTripper, log *slog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects pass through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// Forward proxies the request to the project's upstream. The returned error
// is nil only for a fully relayed non-5xx response; everything else (5xx,
// connect failure, deadline, aborted stream) is an error so the wrapping
// breaker counts it.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, proj *config.Project, id identity.Identity) error {
	if proj.Prefix == "" || proj.TargetURL == "" {
		return &httpx.StatusError{Status: http.StatusInternalServerError, Message: "Project routing configuration is invalid."}
	}

	target := proj.TargetURL + StripPath(r.URL.Path, proj.Prefix)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return &httpx.StatusError{Status: http.StatusInternalServerError, Message: "Upstream URI could not be constructed."}
	}

	ctx := r.Context()
	cancel := context.CancelFunc(func() {})
	if tl := proj.TimeLimiter; tl != nil && tl.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, tl.Timeout.Std())
	}
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r.Body)
	if err != nil {
		return &httpx.StatusError{Status: http.StatusInternalServerError, Message: "Upstream request could not be built."}
	}
	req.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		req.Body = http.NoBody
	}

	copyFiltered(req.Header, r.Header)
	req.Header.Set("X-User-Id", id.ID)
	req.Header.Set("X-User-Role", id.Role)
	req.Header.Set("X-User-Plan", id.Plan)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy %s: %w", proj.Prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &httpx.StatusError{Status: resp.StatusCode, Message: "The upstream service returned an error."}
	}

	copyFiltered(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// The response is committed; the caller can only log and count the
		// failure.
		return fmt.Errorf("proxy %s: response stream aborted: %w", proj.Prefix, err)
	}
	return nil
}

func copyFiltered(dst, src http.Header) {
	for key, values := range src {
		if isIgnoredHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// StripPath removes the project prefix from path. An empty remainder maps
// to "/" so bare-prefix requests hit the upstream root.
func StripPath(path, prefix string) string {
	p := strings.TrimPrefix(path, prefix)
	if p == "" {
		return "/"
	}
	return p
}
