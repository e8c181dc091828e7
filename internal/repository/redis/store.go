// Package redis holds the KV-backed stores for every durable record the
// service owns. The underlying collaborator offers only get, put-with-ttl
// and delete; TTL expiry is the sole garbage-collection mechanism, and
// multi-key updates are last-writer-wins.
package redis

import (
	"context"
	"errors"
	"time"

	"otp-auth-service/internal/client"
)

const opTimeout = 5 * time.Second

// KV is the durable key-value collaborator surface. client.RedisClient
// implements it in production; tests use an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// IsNotFound reports whether err means the key is absent or expired.
func IsNotFound(err error) bool {
	return errors.Is(err, client.ErrKeyNotFound)
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, opTimeout)
}
