// Package lock provides a Redis-backed distributed mutex.
//
// The lock serializes the profile checkout window across worker processes:
// it is held only while a shared profile directory is being copied and the
// browser session is being brought up, never during steady-state work. The
// hold timeout doubles as crash safety — the Redis key expires on its own if
// the owning process dies before releasing.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired before the
// acquire timeout elapsed. Callers must treat this as fatal to the
// initialization step they were guarding.
var ErrLockTimeout = errors.New("lock: acquire timeout elapsed")

// KeyPrefix namespaces every lock key written to the shared store.
const KeyPrefix = "lock:chanina:"

// retryInterval is how often acquisition is retried while contended.
const retryInterval = 100 * time.Millisecond

// releaseScript deletes the key only if it still holds our token, so an
// expired-and-reacquired lock is never released out from under its new owner.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Client is the minimal Redis surface the lock needs. *redis.Client and
// redis.Cmdable both satisfy it.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// KeyFor derives the lock key protecting the given resource path.
func KeyFor(path string) string {
	return KeyPrefix + path
}

// Lock acquires and releases distributed locks against a shared Redis store.
// It is safe for concurrent use.
type Lock struct {
	client Client
}

// New creates a Lock backed by the given Redis client. The caller owns the
// client lifecycle.
func New(client Client) *Lock {
	return &Lock{client: client}
}

// Guard represents one acquired lock. Release it when the guarded window
// closes; the lock also auto-expires after its hold timeout.
type Guard struct {
	key      string
	token    string
	client   Client
	released bool
}

// Key returns the lock key this guard holds.
func (g *Guard) Key() string { return g.key }

// Acquire blocks until the lock for key is obtained, the acquire timeout
// elapses, or ctx is cancelled. Once obtained, the lock auto-expires after
// holdTimeout even if never released.
func (l *Lock) Acquire(ctx context.Context, key string, acquireTimeout, holdTimeout time.Duration) (*Guard, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(acquireTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, holdTimeout).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: setnx %s: %w", key, err)
		}
		if ok {
			return &Guard{key: key, token: token, client: l.client}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		wait := retryInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Release gives the lock back. It is idempotent and only deletes the key if
// this guard's token still owns it.
func (g *Guard) Release(ctx context.Context) error {
	if g == nil || g.released {
		return nil
	}
	g.released = true

	if err := g.client.Eval(ctx, releaseScript, []string{g.key}, g.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: release %s: %w", g.key, err)
	}
	return nil
}
