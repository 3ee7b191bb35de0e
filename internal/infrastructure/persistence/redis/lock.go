package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// Аренда SET NX PX с токеном владельца. Снимается и продлевается только тем,
// кто её взял. Пока замок удерживается, сторож продлевает аренду.
// ══════════════════════════════════════════════════════════════════════════════

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// LockConfig configures the lease.
type LockConfig struct {
	// TTL bounds how long a crashed holder blocks others.
	TTL time.Duration

	// RenewInterval is how often a held lease is extended back to TTL.
	// Defaults to TTL/3.
	RenewInterval time.Duration

	// RetryInterval is the pause between SET NX attempts.
	RetryInterval time.Duration
}

// leaseStore is the set of Redis commands the lock needs.
type leaseStore interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) (bool, error)
}

type redisLease struct {
	rdb redis.UniversalClient
}

func (r redisLease) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, token, ttl).Result()
}

func (r redisLease) extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, r.rdb, []string{key}, token, ttl.Milliseconds()).Int()
	return n == 1, err
}

func (r redisLease) release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Int()
	return n == 1, err
}

// Lock implements a per-key lease. It satisfies lock.Locker.
type Lock struct {
	lease  leaseStore
	cfg    LockConfig
	logger *logger.Logger
}

// NewLock creates a lease locker.
func NewLock(c *Client, cfg LockConfig, log *logger.Logger) *Lock {
	return newLock(redisLease{rdb: c.Redis()}, cfg, log)
}

func newLock(lease leaseStore, cfg LockConfig, log *logger.Logger) *Lock {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLLock
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.TTL {
		cfg.RenewInterval = cfg.TTL / 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Lock{lease: lease, cfg: cfg, logger: log.With(logger.Component("redis_lock"))}
}

// LockKey generates the Redis key for a resource.
func LockKey(resource string) string {
	return PrefixLock + resource
}

// Lock blocks until the lease is acquired or ctx is done. The lease is
// renewed in the background until the returned release func is called.
func (l *Lock) Lock(ctx context.Context, key string) (func(), error) {
	rkey := LockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.lease.acquire(ctx, rkey, token, l.cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.watch(rkey, token, stop, done)
			return l.releaser(rkey, token, stop, done), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", shared.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// watch продлевает аренду, пока не закрыт stop.
func (l *Lock) watch(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.RenewInterval)
		ok, err := l.lease.extend(ctx, rkey, token, l.cfg.TTL)
		cancel()
		switch {
		case err != nil:
			// следующая попытка ещё успеет до истечения TTL
			l.logger.Warn("failed to extend lock", logger.String("key", rkey), logger.Err(err))
		case !ok:
			l.logger.Error("lock lease lost", logger.String("key", rkey))
			return
		}
	}
}

func (l *Lock) releaser(rkey, token string, stop chan<- struct{}, done <-chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			ok, err := l.lease.release(ctx, rkey, token)
			switch {
			case err != nil:
				l.logger.Warn("failed to release lock", logger.String("key", rkey), logger.Err(err))
			case !ok:
				// аренда истекла и, возможно, уже занята другим экземпляром
				l.logger.Warn("lock lease expired before release", logger.String("key", rkey))
			}
		})
	}
}
