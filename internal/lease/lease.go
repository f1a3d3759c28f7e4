// Package lease keeps a periodic job from running on more than one replica
// at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 30 * time.Minute
	defaultPrefix = "tierstore:lease:"
)

// ReleaseFunc gives a held lease back. Releasing twice is harmless.
type ReleaseFunc func(ctx context.Context) error

// Locker hands out named, expiring leases.
type Locker interface {
	// TryAcquire returns ok=false without error when someone else holds name.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}

// Local always grants the lease. Used for single-replica deployments where
// the scheduler's own per-job mutex is enough.
type Local struct{}

func (Local) TryAcquire(context.Context, string, time.Duration) (ReleaseFunc, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker with SET NX PX plus a compare-and-delete release.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis connects to the redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisFromClient(client), nil
}

func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: defaultPrefix}
}

func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if name == "" {
		return nil, false, errors.New("lease: empty name")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lease %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
