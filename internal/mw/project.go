package mw

import (
	"context"
	"net/http"
)

type projectCtxKey struct{}

// projectHolder is installed into the request context before routing so
// outer middleware (access log, metrics) can read the project the inner
// pipeline resolved later.
type projectHolder struct {
	name string
}

// WithProject installs an empty project holder into the request context.
func WithProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), projectCtxKey{}, &projectHolder{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetProject records the resolved project prefix for the current request.
// It is a no-op when WithProject did not run.
func SetProject(ctx context.Context, name string) {
	if h, ok := ctx.Value(projectCtxKey{}).(*projectHolder); ok {
		h.name = name
	}
}

// ProjectName returns the resolved project prefix, or "unknown" when the
// request never matched a project.
func ProjectName(ctx context.Context) string {
	if h, ok := ctx.Value(projectCtxKey{}).(*projectHolder); ok && h.name != "" {
		return h.name
	}
	return "unknown"
}
