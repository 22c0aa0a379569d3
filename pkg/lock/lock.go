// Package lock serializes mutating operations on the same work order.
//
// LocalLocker covers a single process. RedisLocker extends the guarantee across
// replicas sharing one Redis.
package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Locker hands out exclusive, keyed locks. Acquire blocks until the lock is
// obtained or ctx is done. The returned release func is idempotent.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key joins parts into a lock key, e.g. Key("workorder", id).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted
// and dropped once no goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := l.ref(key)
	select {
	case e.ch <- struct{}{}:
		return l.releaser(key, e), nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}
}

func (l *LocalLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports the number of live entries.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// With runs fn while holding key.
func With(ctx context.Context, l Locker, key string, fn func() error) error {
	release, err := l.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()
	return fn()
}
