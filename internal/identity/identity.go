// Package identity holds the caller identity asserted by authentication and
// propagated to upstream services via the X-User-* headers.
package identity

type Identity struct {
	ID   string
	Role string
	Plan string
}

// Anonymous is assigned to requests admitted by a public-path rule when
// authentication produced no identity.
var Anonymous = Identity{ID: "anonymous", Role: "ROLE_ANONYMOUS", Plan: "FREE"}
