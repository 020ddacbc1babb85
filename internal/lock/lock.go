// Package lock implements per-task mutual exclusion on top of Redis.
//
// Each running task may be ticked by several workers (and, after a deploy,
// by several processes) at once; the lock guarantees single-flight per task.
// Acquisition is SET NX PX with a random token; release is a Lua
// compare-and-delete so a worker that lost its lock to TTL expiry can never
// delete a successor's lock. Contention is not an error: the losing tick
// simply skips, the next one retries.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "task-lock:"

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Locker hands out TTL-bounded per-task locks.
type Locker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Locker. ttl bounds how long a crashed holder can block a
// task before the lock self-releases.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Locker {
	return &Locker{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "lock"),
	}
}

// Acquire attempts to take the task's lock. ok is false when another
// holder owns it. The returned release is safe to call after TTL expiry:
// it only deletes the key while it still carries this acquisition's token.
func (l *Locker) Acquire(ctx context.Context, taskID string) (release func(context.Context), ok bool, err error) {
	key := keyPrefix + taskID
	token := uuid.NewString()

	ok, err = l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) {
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
		if err != nil {
			l.logger.Warn("lock release failed, waiting for TTL", "key", key, "error", err)
			return
		}
		if deleted == 0 {
			l.logger.Warn("lock expired before release", "key", key, "ttl", l.ttl)
		}
	}
	return release, true, nil
}

// WithLock runs fn under the task's lock. When the lock is contended fn is
// not run and ran is false: per-task work is periodic, so a skipped tick is
// recovered by the next one.
func (l *Locker) WithLock(ctx context.Context, taskID string, fn func(context.Context) error) (ran bool, err error) {
	release, ok, err := l.Acquire(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Debug("tick skipped, lock contended", "task", taskID)
		return false, nil
	}
	defer release(ctx)

	return true, fn(ctx)
}
