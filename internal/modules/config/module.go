package config

import (
	"signal_bot/internal/models"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(cfg *Config) models.Instruments { return cfg.Instruments },
		),
	)
}
