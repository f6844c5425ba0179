package docstore

import (
	"context"
	"fmt"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/docstore/service"
	"signal_bot/pkg/db"
	"signal_bot/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewStore connects the backend selected by store.driver.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (service.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN:      cfg.Store.PostgresDSN,
			MaxConns: cfg.Store.PostgresMaxConns,
			LogLevel: cfg.Store.PostgresLogLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}
		tm := db.NewPgTxManager(poolMaster)
		if err = tm.Ping(ctx); err != nil {
			tm.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}

		pg := service.NewPostgres(tm)
		if err = pg.EnsureSchema(ctx); err != nil {
			tm.Close()
			return nil, err
		}
		lc.Append(fx.StopHook(tm.Close))
		logger.Info("docstore: postgres ready")
		return pg, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Store.RedisAddr, err)
		}
		lc.Append(fx.StopHook(rdb.Close))
		logger.Info("docstore: redis ready at %s", cfg.Store.RedisAddr)
		return service.NewRedis(rdb, cfg.Store.RedisPrefix), nil

	case "memory":
		logger.Warn("docstore: in-memory driver, state is lost on restart")
		return service.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func Module() fx.Option {
	return fx.Module("docstore",
		fx.Provide(NewStore),
	)
}
