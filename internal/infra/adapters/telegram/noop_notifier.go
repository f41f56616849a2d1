package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs alerts instead of sending them.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Notify(ctx context.Context, text string) error {
	n.log.Info().Str("alert", text).Msg("operator alert")
	return nil
}
