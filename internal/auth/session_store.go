package auth

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// SessionStore tests whether a session key exists. Presence means the
// session is valid; the gateway never reads session contents.
type SessionStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisSessions backs SessionStore with a Redis EXISTS call.
type RedisSessions struct {
	RDB redis.Cmdable
}

func (s RedisSessions) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.RDB.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
