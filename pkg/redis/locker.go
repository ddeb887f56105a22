package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockClient is the subset of the go-redis client the Locker uses.
type LockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// Locker is a distributed per-key mutex implementing subscription.Locker.
// A lock expires after the configured TTL if its holder dies.
type Locker struct {
	client    LockClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// NewLocker creates a Locker on client.
func NewLocker(client LockClient, cfg Config) *Locker {
	l := &Locker{
		client:    client,
		prefix:    cfg.LockPrefix,
		ttl:       cfg.LockTTL,
		retryWait: cfg.LockRetryWait,
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.retryWait <= 0 {
		l.retryWait = 50 * time.Millisecond
	}
	return l
}

// Lock blocks until key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyLockKey
	}
	full := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", ErrLockFailed, err)
		}
		if ok {
			return l.release(full, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryWait):
		}
	}
}

func (l *Locker) release(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// On failure the key expires after the TTL.
		_ = unlockScript.Run(ctx, l.client, []string{key}, token).Err()
	}
}
