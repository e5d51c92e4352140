package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey names the Redis key guarding sync passes
const DefaultKey = "clearance-watch:pass-lock"

var ErrLockNotHeld = errors.New("lock not held")

// PassLock makes sure only one sync pass runs at a time
type PassLock interface {
	// Acquire returns false without error when another holder owns the lock
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lock picked up by someone else is never released by us
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the expiry only while the key carries our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
	stop  chan struct{}
	done  chan struct{}
}

// NewRedisLock creates a lock shared by every process using the same key.
// ttl bounds how long a crashed holder can block others; a live holder
// refreshes it every ttl/3 until Release.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) PassLock {
	if key == "" {
		key = DefaultKey
	}
	return &redisLock{client: client, key: key, ttl: ttl}
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	l.mu.Lock()
	l.token = token
	l.stop = stop
	l.done = done
	l.mu.Unlock()

	go l.keepAlive(token, stop, done)
	return true, nil
}

// keepAlive pushes the expiry forward until stop is closed or the key is
// found to belong to someone else
func (l *redisLock) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			extended, err := refreshScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && extended == 0 {
				return
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token, stop, done := l.token, l.stop, l.done
	l.token, l.stop, l.done = "", nil, nil
	l.mu.Unlock()

	if token == "" {
		return ErrLockNotHeld
	}

	close(stop)
	<-done

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release pass lock: %w", err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

type localLock struct {
	mu   sync.Mutex
	held bool
}

// NewLocalLock creates an in-process lock for single-instance deployments
func NewLocalLock() PassLock {
	return &localLock{}
}

func (l *localLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *localLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrLockNotHeld
	}
	l.held = false
	return nil
}
