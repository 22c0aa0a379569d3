package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "workorder:wo-1", Key("workorder", "wo-1"))
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, Key("workorder", "wo-1"))
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Zero(t, l.size(), "entries are dropped after release")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	r2()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, l.size())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l := NewRedisLockerFromAddr(addr, "", 0, WithPrefix("reportdesk:test:"), WithTTL(5*time.Second))
	defer func() { _ = l.Close() }()

	ctx := context.Background()
	release, err := l.Acquire(ctx, "wo-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "wo-1")
	assert.Error(t, err)

	release()
	again, err := l.Acquire(ctx, "wo-1")
	require.NoError(t, err)
	again()
}

func TestWith(t *testing.T) {
	l := NewLocalLocker()
	ran := false
	err := With(context.Background(), l, "k", func() error {
		ran = true
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := l.Acquire(ctx, "k")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, l.size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = With(ctx, l, "k", func() error { t.Fatal("must not run"); return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
