package telegram

import (
	"context"
	"errors"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*AlertNotifier)(nil)

// telegram rejects messages above 4096 characters
const maxMessageLen = 4000

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertNotifier posts operator alerts to one Telegram chat.
type AlertNotifier struct {
	bot    sender
	chatID int64
	log    *zerolog.Logger
}

func NewAlertNotifier(token string, chatID int64, logger *zerolog.Logger) (*AlertNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newAlertNotifier(bot, chatID, logger), nil
}

func newAlertNotifier(bot sender, chatID int64, logger *zerolog.Logger) *AlertNotifier {
	l := logger.With().Str("component", "TelegramAlerts").Logger()
	return &AlertNotifier{bot: bot, chatID: chatID, log: &l}
}

func (n *AlertNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, truncate(text, maxMessageLen))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return err
	}
	n.log.Debug().Int64("chat_id", n.chatID).Msg("alert sent")
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
