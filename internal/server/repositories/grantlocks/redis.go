package grantlocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "capsulekeeper:grantlock:"

// releaseScript deletes the key only when it still holds the caller's burst id.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// cmdable is the part of *redis.Client the locker needs.
type cmdable interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisRepository keeps one key per pair, valued with the holder's burst id
// and expiring together with the burst key.
type RedisRepository struct {
	rdb cmdable
}

func NewRedisRepository(rdb cmdable) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

// NewRedisClient builds the client used by NewRedisRepository.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func lockKey(accessorID, capsuleID string) string {
	return keyPrefix + accessorID + ":" + capsuleID
}

func (r *RedisRepository) Acquire(ctx context.Context, l models.GrantLock, now time.Time) (bool, string, error) {
	ttl := l.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return false, "", fmt.Errorf("%w: lock already expired", common.ErrorInvalidInput)
	}
	key := lockKey(l.AccessorID, l.CapsuleID)

	// a holder may expire between SETNX and GET, so try twice
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.rdb.SetNX(ctx, key, l.BurstID, ttl).Result()
		if err != nil {
			return false, "", fmt.Errorf("redis error: %w", err)
		}
		if ok {
			return true, "", nil
		}

		holder, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("redis error: %w", err)
		}
		return false, holder, nil
	}
	return false, "", nil
}

func (r *RedisRepository) Release(ctx context.Context, l models.GrantLock) error {
	err := r.rdb.Eval(ctx, releaseScript, []string{lockKey(l.AccessorID, l.CapsuleID)}, l.BurstID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Purge is a no-op: Redis expires lock keys on its own.
func (r *RedisRepository) Purge(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
