package strategy

import (
	"signal_bot/internal/modules/config"
	market "signal_bot/internal/modules/market/service"
	"signal_bot/internal/modules/strategy/service"
	"signal_bot/internal/positions"

	"go.uber.org/fx"
)

func NewAggregatorConfig(cfg *config.Config) service.AggregatorConfig {
	return service.AggregatorConfig{
		ConfirmTimeframe: cfg.Market.ConfirmTimeframe,
		ConfirmLookback:  cfg.Market.ConfirmLookback,
		HistoryBars:      cfg.Market.HistoryBars,
	}
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			NewAggregatorConfig,
			service.NewIndicator,
			func(c *market.Client) service.MarketData { return c },
			func(ps *positions.Store) service.VoteStore { return ps },
			service.NewAggregator,
		),
	)
}
