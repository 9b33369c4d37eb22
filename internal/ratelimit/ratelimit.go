// Package ratelimit implements the per-(project, subject) token bucket.
package ratelimit

import (
	"context"
)

// Decision is the outcome of a single bucket check.
type Decision struct {
	Allowed   bool
	Remaining int64 // floor of the tokens left after the decision
}

type Limiter interface {
	// Allow consumes `requested` tokens from the bucket behind key. The
	// bucket holds at most capacity tokens and refills at refillRate tokens
	// per second (0 means no refill).
	Allow(ctx context.Context, key string, capacity int64, refillRate float64, requested int) (Decision, error)
	Close() error
}

// BucketKey names the bucket for a project and subject. Authenticated users
// get a per-user bucket; anonymous or unauthenticated callers share a
// per-IP bucket.
func BucketKey(prefix, subjectID, clientIP string) string {
	if subjectID != "" && subjectID != "anonymous" {
		return "rate_limit:" + prefix + ":user:" + subjectID
	}
	return "rate_limit:" + prefix + ":ip:" + clientIP
}
