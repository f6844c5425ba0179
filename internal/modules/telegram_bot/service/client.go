package service

import (
	"context"

	"signal_bot/internal/notify"
	"signal_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Telegram delivers notifications to the operator and subscriber chats.
// It is outbound only: updates are never polled.
type Telegram struct {
	bot         *tgbot.BotAPI
	operator    int64
	subscribers []int64
}

func NewTelegram(token string, operator int64, subscribers []int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbot.APIEndpoint, operator, subscribers)
}

// NewTelegramWithEndpoint builds the sender against a custom Bot API endpoint
// of the form "https://host/bot%s/%s".
func NewTelegramWithEndpoint(token, endpoint string, operator int64, subscribers []int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "telegram login")
	}
	logger.Info("telegram: authorized as @%s", b.Self.UserName)

	return &Telegram{
		bot:         b,
		operator:    operator,
		subscribers: append([]int64(nil), subscribers...),
	}, nil
}

// recipients resolves an audience into chat ids. The operator always
// receives subscriber broadcasts, but never twice.
func (t *Telegram) recipients(audience notify.Audience) []int64 {
	var out []int64
	seen := make(map[int64]struct{})
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(t.operator)
	if audience == notify.AllSubscribers {
		for _, id := range t.subscribers {
			add(id)
		}
	}
	return out
}

func (t *Telegram) Send(ctx context.Context, chatID int64, msg string) (tgbot.Message, error) {
	if err := ctx.Err(); err != nil {
		return tgbot.Message{}, err
	}
	return t.bot.Send(tgbot.NewMessage(chatID, msg))
}

// Notify sends msg to every chat of the audience. A failed chat does not stop
// delivery to the rest; all failures are returned together.
func (t *Telegram) Notify(ctx context.Context, audience notify.Audience, msg string) error {
	var errs error
	for _, id := range t.recipients(audience) {
		if _, err := t.Send(ctx, id, msg); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "telegram send to %d", id))
		}
	}
	return errs
}

var _ notify.Notifier = (*Telegram)(nil)
