package market

import (
	"context"
	"sync"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	health "signal_bot/internal/modules/health/service"
	"signal_bot/internal/modules/market/service"
	"signal_bot/pkg/retry"

	"go.uber.org/fx"
)

func NewConfig(cfg *config.Config) service.Config {
	return service.Config{
		BaseURL:        cfg.Market.BaseURL,
		WSURL:          cfg.Market.WSURL,
		RequestTimeout: cfg.Market.RequestTimeout,
		PriceMaxAge:    cfg.Market.PriceMaxAge,
		Retry: retry.Policy{
			Delays:   cfg.Market.RetryDelays,
			Attempts: cfg.Market.RetryAttempts,
		},
	}
}

// RunStream feeds the price cache from the ticker stream while the app runs.
func RunStream(lc fx.Lifecycle, cfg *config.Config, c *service.Client, instruments models.Instruments, state *health.State) {
	if !cfg.Market.StreamEnabled {
		return
	}

	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.StreamTickers(ctx, instruments.IDs(), state.SetWSConnected)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
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
	return fx.Module("market",
		fx.Provide(
			NewConfig,
			service.NewClient,
		),
		fx.Invoke(RunStream),
	)
}
