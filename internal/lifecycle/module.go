package lifecycle

import (
	"signal_bot/internal/cooldown"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/positions"

	"go.uber.org/fx"
)

func NewConfig(cfg *config.Config) Config {
	return Config{
		NotionalUSD:       cfg.Monitor.NotionalUSD,
		PostCloseCooldown: cfg.Monitor.PostCloseCooldown,
		ClosingStaleAfter: cfg.Monitor.ClosingStaleAfter,
		CloseTimeout:      cfg.Monitor.CloseTimeout,
	}
}

func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(
			positions.NewStore,
			cooldown.NewManager,
			NewConfig,
			NewController,
		),
	)
}
