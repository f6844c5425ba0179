package telegram

import (
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/telegram_bot/service"
	"signal_bot/internal/notify"
	"signal_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewNotifier returns the Telegram sender, or a log-only notifier when no
// bot token is configured.
func NewNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("telegram: no token configured, notifications go to the log")
		return notify.NewLog(), nil
	}
	return service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.OperatorChatID, cfg.Telegram.SubscriberChatIDs)
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(NewNotifier),
	)
}
