package bootstrap

import (
	"context"

	"signal_bot/internal/modules/bootstrap/service"

	"go.uber.org/fx"
)

// Module runs the startup cleanup before the evaluators are started.
// It must be listed ahead of the runner module.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(service.NewCleanup),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Cleanup) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					_, err := c.Run(ctx)
					return err
				},
			})
		}),
	)
}
