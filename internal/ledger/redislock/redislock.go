// Package redislock implements run leases on Redis so that crawler processes
// on different hosts never run the same target at once.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/ledger"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Locker grants leases with SET NX PX.
type Locker struct {
	rdb    redis.Cmdable
	prefix string
}

// New creates a Locker. Keys are namespaced under prefix.
func New(rdb redis.Cmdable, prefix string) *Locker {
	return &Locker{rdb: rdb, prefix: prefix}
}

// Acquire takes the lease on key for ttl.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ledger.Lease, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "acquire lease")
	}
	if !ok {
		return nil, apperr.ErrLeaseHeld
	}
	return &lease{rdb: l.rdb, key: full, token: token}, nil
}

type lease struct {
	rdb   redis.Cmdable
	key   string
	token string
}

func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	if n == 0 {
		return apperr.ErrLeaseLost
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
