package runner

import (
	"context"

	"signal_bot/internal/modules/config"
	market "signal_bot/internal/modules/market/service"
	strategy "signal_bot/internal/modules/strategy/service"

	"go.uber.org/fx"
)

func NewConfig(cfg *config.Config) Config {
	return Config{
		SlowInterval:        cfg.Monitor.SlowInterval,
		FastInterval:        cfg.Monitor.FastInterval,
		SlowTickTimeout:     cfg.Monitor.SlowTickTimeout,
		FastTickTimeout:     cfg.Monitor.FastTickTimeout,
		BackstopBars:        cfg.Monitor.BackstopBars,
		ClosingStaleAfter:   cfg.Monitor.ClosingStaleAfter,
		MaxSignalsPerRun:    cfg.Monitor.MaxSignalsPerRun,
		BurstThreshold:      cfg.Monitor.BurstThreshold,
		SignalBurstCooldown: cfg.Monitor.SignalBurstCooldown,
		Concurrency:         cfg.Monitor.Concurrency,
	}
}

// Run starts the evaluators with the app and stops them on shutdown,
// waiting for in-flight ticks as long as the stop context allows.
func Run(lc fx.Lifecycle, m *Monitor) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			m.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				m.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewConfig,
			func(c *market.Client) Market { return c },
			func(a *strategy.Aggregator) Evaluator { return a },
			NewMonitor,
		),
		fx.Invoke(Run),
	)
}
