package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLease lets independently scheduled sweepers skip an entity type
// another sweeper is already processing. Cascade operations are idempotent
// so concurrent sweeps are safe without it; the lease only avoids wasted
// work. TryAcquire never blocks.
type SweepLease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// NewSweepLease returns a redis-backed lease, or a no-op lease when redis
// is not configured.
func NewSweepLease(client *redis.Client, logger *zap.Logger) SweepLease {
	if client == nil {
		return NoopSweepLease{}
	}
	return &RedisSweepLease{
		client: client,
		owner:  uuid.NewString(),
		logger: logger.Named("sweep-lease"),
	}
}

// NoopSweepLease always grants the lease.
type NoopSweepLease struct{}

// TryAcquire implements SweepLease.
func (NoopSweepLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

var _ SweepLease = NoopSweepLease{}

// releaseScript deletes the lease key only when this process still owns
// it, so an expired lease re-acquired by another sweeper is not released
// out from under it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisSweepLease implements SweepLease with SET NX + TTL. The TTL bounds
// how long a crashed sweeper can hold a lease.
type RedisSweepLease struct {
	client *redis.Client
	owner  string
	logger *zap.Logger
}

var _ SweepLease = (*RedisSweepLease)(nil)

// TryAcquire implements SweepLease.
func (l *RedisSweepLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sweep lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, l.owner).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("Failed to release sweep lease", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
