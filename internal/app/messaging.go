package app

import (
	"context"
	"fmt"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/eventhandler"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/lock"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/messaging"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/redis"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// EventBus is the in-process or Redis-backed bus.
type EventBus interface {
	shared.EventBus
	Close() error
	Metrics() *messaging.EventBusMetrics
}

func (a *App) redisEnabled() bool {
	return !a.Config.Redis.Disabled
}

// wireMessaging connects Redis when enabled and builds the bus, the
// ranking cache and the per-user locker on top of it.
func (a *App) wireMessaging() error {
	cfg := a.Config
	features := cfg.Features
	local := lock.NewKeyedMutex()
	a.Locker = local

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.Log

	if !a.redisEnabled() {
		a.Bus = messaging.NewInMemoryEventBus(busCfg)
		a.onClose(func() { _ = a.Bus.Close() })
		return nil
	}

	client, err := redis.NewClient(redisConfig(cfg.Redis))
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.Log.Warn("failed to close redis", logger.Err(err))
		}
	})
	a.Log.Info("redis connection established")

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         client,
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: busCfg,
		Logger:         a.Log,
	})
	if err != nil {
		return fmt.Errorf("failed to start redis event bus: %w", err)
	}
	a.Bus = bus
	a.onClose(func() { _ = bus.Close() })

	if features.Enabled(config.FeatureRankingCache) {
		a.Cache = redis.NewRankingCache(client)
	}
	if features.Enabled(config.FeatureDistributedLock) {
		lease := redis.NewLock(client, redis.LockConfig{TTL: cfg.Redis.LockTTL}, a.Log)
		// локальный мьютекс первым: в процессе ждём без обращений к Redis
		a.Locker = lock.Chain{local, lease}
	}
	return nil
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

// wireSubscriptions registers the event handlers on the bus through a
// dispatcher. Only the worker subscribes, so each notification is sent
// once however many API instances run.
func (a *App) wireSubscriptions(ctx context.Context) error {
	dispatcher := messaging.NewDispatcher(ctx, a.Bus, a.Log)
	dispatcher.Use(messaging.RecoveryMiddleware(a.Log))
	dispatcher.Use(messaging.LoggingMiddleware(a.Log))

	var cacheHandler *eventhandler.RankingCacheHandler
	if a.Cache != nil {
		cacheHandler = eventhandler.NewRankingCacheHandler(a.Cache, a.Clock, a.Log)
	}
	notify := eventhandler.NewNotifyHandler(a.Store, messaging.NewLogSender(a.Log), a.Log)

	subs := eventhandler.Subscriptions(cacheHandler, notify)
	for _, s := range subs {
		if err := dispatcher.Register(s.Event, messaging.Registration{
			Name:       s.Name,
			Handler:    s.Handler,
			MaxRetries: s.Retries,
		}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", s.Name, err)
		}
	}
	a.Log.Info("event handlers subscribed", logger.Int("count", len(subs)))
	return nil
}
