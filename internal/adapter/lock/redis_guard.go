// Package lock enforces the single in-flight evaluation per application
// using a Redis lock with a TTL.
package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// RedisGuard implements domain.EvaluationGuard with SET NX EX. The TTL is a
// crash backstop: a worker that dies mid-run leaves a lock that expires on
// its own instead of wedging the application forever.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisGuard constructs a guard. A zero ttl falls back to 10 minutes.
func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func lockKey(applicationID string) string {
	return "eval:inflight:" + applicationID
}

// Acquire takes the per-application lock. Returns false without error when
// another run already holds it.
func (g *RedisGuard) Acquire(ctx domain.Context, applicationID string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, lockKey(applicationID), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=guard.acquire: %w", err)
	}
	return ok, nil
}

// Release frees the lock. Releasing an expired or absent lock is harmless.
func (g *RedisGuard) Release(ctx domain.Context, applicationID string) error {
	if err := g.rdb.Del(ctx, lockKey(applicationID)).Err(); err != nil {
		return fmt.Errorf("op=guard.release: %w", err)
	}
	return nil
}
