package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	maxWait time.Duration
	log     *slog.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithBackoff sets the initial retry delay; it doubles up to one second.
func WithBackoff(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.backoff = d }
}

// WithPrefix namespaces keys.
func WithPrefix(p string) RedisOption {
	return func(l *RedisLocker) { l.prefix = p }
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:  client,
		prefix:  "reportdesk:lock:",
		ttl:     30 * time.Second,
		backoff: 10 * time.Millisecond,
		maxWait: time.Second,
		log:     slog.Default().With("component", "lock"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewRedisLockerFromAddr dials addr with default options.
func NewRedisLockerFromAddr(addr, password string, db int, opts ...RedisOption) *RedisLocker {
	return NewRedisLocker(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.New().String()
	wait := l.backoff

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock: redis set: %w", err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > l.maxWait {
			wait = l.maxWait
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's ctx may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{k}, token).Err(); err != nil {
			l.log.Error("release failed", "key", key, "error", err)
		}
	}, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
