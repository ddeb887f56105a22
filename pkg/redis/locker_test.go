package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/redis"
)

// fakeClient keeps keys in memory and runs the unlock script natively.
type fakeClient struct {
	mu     sync.Mutex
	keys   map[string]string
	setErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{keys: make(map[string]string)}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, _ time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return goredis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.keys[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeClient) unlock(keys []string, args []any) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...any) *goredis.Cmd {
	return f.unlock(keys, args)
}

func (f *fakeClient) EvalSha(_ context.Context, _ string, keys []string, args ...any) *goredis.Cmd {
	return f.unlock(keys, args)
}

func (f *fakeClient) EvalRO(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeClient) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *goredis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeClient) ScriptExists(_ context.Context, hashes ...string) *goredis.BoolSliceCmd {
	return goredis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeClient) ScriptLoad(_ context.Context, _ string) *goredis.StringCmd {
	return goredis.NewStringResult("sha", nil)
}

func (f *fakeClient) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[key]
	return v, ok
}

func (f *fakeClient) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
}

var lockCfg = redis.Config{LockPrefix: "billing:lock:", LockTTL: time.Minute, LockRetryWait: time.Millisecond}

func TestLocker(t *testing.T) {
	t.Parallel()

	t.Run("acquires and releases", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		l := redis.NewLocker(client, lockCfg)

		unlock, err := l.Lock(context.Background(), "user-1")
		require.NoError(t, err)
		_, held := client.get("billing:lock:user-1")
		assert.True(t, held)

		unlock()
		_, held = client.get("billing:lock:user-1")
		assert.False(t, held)
	})

	t.Run("waits for the holder", func(t *testing.T) {
		t.Parallel()
		l := redis.NewLocker(newFakeClient(), lockCfg)

		unlock, err := l.Lock(context.Background(), "user-1")
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			second, err := l.Lock(context.Background(), "user-1")
			if err == nil {
				second()
			}
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("second lock acquired while the first was held")
		case <-time.After(20 * time.Millisecond):
		}
		unlock()

		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second lock never acquired")
		}
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		t.Parallel()
		l := redis.NewLocker(newFakeClient(), lockCfg)
		unlock, err := l.Lock(context.Background(), "user-1")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "user-1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("leaves a lock taken over after expiry", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		l := redis.NewLocker(client, lockCfg)

		unlock, err := l.Lock(context.Background(), "user-1")
		require.NoError(t, err)
		client.set("billing:lock:user-1", "someone-else")

		unlock()
		v, held := client.get("billing:lock:user-1")
		assert.True(t, held)
		assert.Equal(t, "someone-else", v)
	})

	t.Run("reports client errors", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		client.setErr = errors.New("connection refused")

		_, err := redis.NewLocker(client, lockCfg).Lock(context.Background(), "user-1")
		assert.ErrorIs(t, err, redis.ErrLockFailed)

		_, err = redis.NewLocker(newFakeClient(), lockCfg).Lock(context.Background(), "")
		assert.ErrorIs(t, err, redis.ErrEmptyLockKey)
	})
}
