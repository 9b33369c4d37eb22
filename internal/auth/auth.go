// Package auth establishes the caller identity for a project, either from a
// signed bearer token or from a server-held session in the key-value store.
package auth

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myinfra/smart-api-gateway/internal/config"
	"github.com/myinfra/smart-api-gateway/internal/identity"
)

// SessionKeyPrefix is the store namespace shared with the session issuer.
const SessionKeyPrefix = "spring:session:sessions:"

const defaultPlan = "FREE"

type Authenticator struct {
	Sessions SessionStore
	Log      *slog.Logger
}

// Authenticate returns the identity asserted by the request's credentials
// for the given project. ok is false when no identity could be established;
// invalid credentials are indistinguishable from missing ones at this stage,
// the orchestrator decides whether that means 401.
func (a *Authenticator) Authenticate(r *http.Request, proj *config.Project) (identity.Identity, bool) {
	switch proj.AuthType {
	case config.AuthTypeToken:
		return a.authenticateToken(r, proj)
	case config.AuthTypeSession:
		return a.authenticateSession(r, proj)
	default:
		return identity.Identity{}, false
	}
}

func (a *Authenticator) authenticateToken(r *http.Request, proj *config.Project) (identity.Identity, bool) {
	tokStr := extractToken(r, proj)
	if tokStr == "" {
		return identity.Identity{}, false
	}

	var (
		methods []string
		keyfunc jwt.Keyfunc
	)
	switch {
	case proj.TokenPublicKey != "":
		// Asymmetric verification wins when both keys are configured.
		pub, err := config.ParseRSAPublicKey(proj.TokenPublicKey)
		if err != nil {
			a.Log.Warn("token public key unusable", slog.String("project", proj.Prefix), slog.String("error", err.Error()))
			return identity.Identity{}, false
		}
		methods = []string{jwt.SigningMethodRS256.Alg()}
		keyfunc = func(*jwt.Token) (any, error) { return pub, nil }
	case proj.TokenSecret != "":
		secret, err := base64.StdEncoding.DecodeString(proj.TokenSecret)
		if err != nil {
			a.Log.Warn("token secret unusable", slog.String("project", proj.Prefix), slog.String("error", err.Error()))
			return identity.Identity{}, false
		}
		methods = []string{jwt.SigningMethodHS256.Alg()}
		keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
	default:
		a.Log.Error("no token key configured", slog.String("project", proj.Prefix))
		return identity.Identity{}, false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(methods))
	tok, err := parser.ParseWithClaims(tokStr, claims, keyfunc)
	if err != nil || !tok.Valid {
		if err == nil {
			err = jwt.ErrTokenUnverifiable
		}
		a.Log.Warn("token validation failed", slog.String("project", proj.Prefix), slog.String("error", err.Error()))
		return identity.Identity{}, false
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	plan, _ := claims["plan"].(string)
	if plan == "" {
		plan = defaultPlan
	}
	return identity.Identity{ID: sub, Role: role, Plan: plan}, true
}

// extractToken prefers the Authorization header; the configured cookie is a
// fallback only.
func extractToken(r *http.Request, proj *config.Project) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if proj.TokenCookieName != "" {
		if c, err := r.Cookie(proj.TokenCookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

func (a *Authenticator) authenticateSession(r *http.Request, proj *config.Project) (identity.Identity, bool) {
	name := proj.SessionCookieName
	if name == "" {
		name = "SESSION"
	}
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return identity.Identity{}, false
	}

	exists, err := a.Sessions.Exists(r.Context(), SessionKeyPrefix+c.Value)
	if err != nil {
		// Store outage reads as no session; the orchestrator still honours
		// public paths.
		a.Log.Warn("session lookup failed", slog.String("project", proj.Prefix), slog.String("error", err.Error()))
		return identity.Identity{}, false
	}
	if !exists {
		return identity.Identity{}, false
	}
	return identity.Identity{ID: "session-user", Role: "ROLE_USER", Plan: defaultPlan}, true
}
