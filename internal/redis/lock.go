package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/homefix/appointment-scheduling/internal/lock"
)

var (
	ErrLockNotAcquired = errors.New("scheduling lock not acquired")
)

const (
	acquireAttempts = 20
	acquireBackoff  = 50 * time.Millisecond
)

type redisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLockRegistry creates a lock.Registry backed by per-key Redis locks, for
// deployments running more than one scheduling instance. Keys are acquired
// in lexicographic order; acquisition retries briefly and then gives up with
// ErrLockNotAcquired instead of waiting forever on a dead holder.
func NewLockRegistry(client *redis.Client, ttl time.Duration) lock.Registry {
	return &redisRegistry{client: client, ttl: ttl}
}

func (r *redisRegistry) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ordered := make([]string, len(keys))
	copy(ordered, keys)
	sort.Strings(ordered)

	token := uuid.NewString()
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = r.release(ctx, held[i], token)
		}
	}

	for i, key := range ordered {
		if i > 0 && key == ordered[i-1] {
			continue
		}
		if err := r.acquire(ctx, key, token); err != nil {
			release()
			return err
		}
		held = append(held, key)
	}

	defer release()

	lockCtx, cancel := context.WithTimeout(ctx, r.ttl)
	defer cancel()

	return fn(lockCtx)
}

func (r *redisRegistry) acquire(ctx context.Context, key, token string) error {
	redisKey := "lock:sched:" + key

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireBackoff):
		}
	}

	return ErrLockNotAcquired
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (r *redisRegistry) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, r.client, []string{"lock:sched:" + key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
