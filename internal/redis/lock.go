package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrLockNotAcquired = errors.New("scope lock not acquired")

// ScopeLocker serializes writers on one scheduling scope, such as
// "doctor:<id>:<date>", across API instances. Postgres advisory locks remain
// the source of truth; this only turns a pile-up into an early retryable error.
type ScopeLocker struct {
	client *redis.Client
	ttl    time.Duration

	wait         time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration
}

type LockOption func(*ScopeLocker)

// WithAcquireWait lets WithLock poll a held lock for up to d, backing off
// exponentially, before giving up. Zero means fail at once.
func WithAcquireWait(d time.Duration) LockOption {
	return func(l *ScopeLocker) { l.wait = d }
}

func NewScopeLocker(client *redis.Client, ttl time.Duration, opts ...LockOption) *ScopeLocker {
	l := &ScopeLocker{
		client:       client,
		ttl:          ttl,
		initialDelay: 10 * time.Millisecond,
		maxDelay:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock runs fn while holding the scope lock. fn gets a context bounded
// by the lock TTL so it cannot outlive its ownership.
func (l *ScopeLocker) WithLock(ctx context.Context, scope string, fn func(ctx context.Context) error) error {
	key := lockKey(scope)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			zerolog.Ctx(ctx).Debug().Str("scope", scope).Dur("waited", l.wait).Msg("scope lock busy")
			return fmt.Errorf("%w: %s", err, scope)
		}
		return err
	}
	defer func() {
		if err := l.release(context.WithoutCancel(ctx), key, token); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("scope lock release failed")
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}

func (l *ScopeLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	delay := l.initialDelay
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire scope lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(delay, remaining)):
		}
		delay = min(delay*2, l.maxDelay)
	}
}

func lockKey(scope string) string { return "lock:" + scope }

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *ScopeLocker) release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release scope lock: %w", err)
	}
	return nil
}
