package app

import (
	"context"
	"fmt"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/eventhandler"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/postgres"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/sqlite"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// Store is everything the use cases read and write.
type Store interface {
	command.Store
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*memory.Store)(nil)

	_ query.UserStatusReader   = Store(nil)
	_ query.HealthReader       = Store(nil)
	_ eventhandler.NotifyStore = Store(nil)
)

// openStore opens the configured driver. The returned close releases the
// connection and is never nil.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (Store, func(), error) {
	log = log.With(logger.Component("storage"), logger.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.URL
		if cfg.MaxOpenConns > 0 {
			pgCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			pgCfg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
		}
		if cfg.ConnMaxLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}
		if cfg.ConnMaxIdleTime > 0 {
			pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
		}

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}
		log.Info("database connection established")
		return postgres.NewStore(conn), conn.Close, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(sqlite.Config{
			Path:       cfg.Path,
			LogQueries: cfg.LogQueries,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("sqlite database opened", logger.String("path", cfg.Path))
		return st, func() {
			if err := st.Close(); err != nil {
				log.Warn("failed to close sqlite", logger.Err(err))
			}
		}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
