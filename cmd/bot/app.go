package main

import (
	"context"

	"signal_bot/internal/lifecycle"
	"signal_bot/internal/metrics"
	"signal_bot/internal/modules/bootstrap"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/docstore"
	"signal_bot/internal/modules/health"
	"signal_bot/internal/modules/market"
	"signal_bot/internal/modules/strategy"
	telegram "signal_bot/internal/modules/telegram_bot"
	"signal_bot/internal/runner"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"

	"go.uber.org/fx"
)

func initLogging(cfg *config.Config) error {
	logger.SetServiceName(cfg.Service.Name)
	return logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	tracing.SetServiceName(cfg.Service.Name)
	_, closer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.StopHook(closer))
	return nil
}

// logging sets up the global logger and tracer. fx invokes modules in the
// order they are listed, so everything after it logs through the real logger.
func logging() fx.Option {
	return fx.Module("logging",
		fx.Invoke(initLogging, initTracing),
	)
}

// core wires config, logging, tracing, storage and the position lifecycle.
// Every command builds on it.
func core() fx.Option {
	return fx.Options(
		fx.Provide(func() context.Context { return context.Background() }),
		config.Module(),
		logging(),
		docstore.Module(),
		metrics.Module(),
		telegram.Module(),
		lifecycle.Module(),
	)
}

// service is the full long-running bot. Bootstrap must come before the runner
// so the cleanup finishes before the first tick.
func service() fx.Option {
	return fx.Options(
		core(),
		market.Module(),
		strategy.Module(),
		health.Module(),
		bootstrap.Module(),
		runner.Module(),
		fx.Invoke(func(lc fx.Lifecycle) {
			lc.Append(fx.StopHook(logger.Sync))
		}),
	)
}
