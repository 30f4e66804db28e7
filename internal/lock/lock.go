// Package lock serializes conversation turns per phone number.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DefaultExpiry bounds how long a distributed lock survives a crashed holder.
const DefaultExpiry = 30 * time.Second

// ErrLockTimeout is returned when a lock could not be acquired before ctx ended.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker grants exclusive access to a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// KeyedMutex is an in-process Locker. Entries are removed once no goroutine holds or
// waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// size returns the number of tracked keys.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// RedisLocker is a Locker shared by every replica, built on redsync.
type RedisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
}

// NewRedisLocker connects to addr, which is either host:port or a redis:// URL.
func NewRedisLocker(ctx context.Context, addr string) (*RedisLocker, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address must be provided")
	}
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("RedisLocker: connected", "addr", opts.Addr)
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "recruitpipe:turn:",
		expiry: DefaultExpiry,
	}, nil
}

// Lock implements Locker. Acquisition retries until ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	m := r.rs.NewMutex(r.prefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(1<<16),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := m.UnlockContext(uctx); err != nil || !ok {
				slog.Error("RedisLocker.Unlock: failed to release lock", "key", key, "released", ok, "error", err)
			}
		})
	}, nil
}

// Close closes the redis client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
