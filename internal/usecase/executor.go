package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BestEffort runs side effects whose failure must never reach the primary
// flow (auto-tagging, operator alerts). Errors and panics are logged only.
type BestEffort struct {
	log     *zerolog.Logger
	timeout time.Duration
}

func NewBestEffort(logger *zerolog.Logger, timeout time.Duration) *BestEffort {
	l := logger.With().Str("component", "BestEffort").Logger()
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &BestEffort{log: &l, timeout: timeout}
}

// Run executes fn synchronously and swallows its outcome.
func (b *BestEffort) Run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if b == nil || fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error().Str("task", name).Str("panic", fmt.Sprint(rec)).Msg("best-effort task panicked")
		}
	}()
	if err := fn(ctx); err != nil {
		b.log.Warn().Err(err).Str("task", name).Msg("best-effort task failed")
	}
}

// Go is Run on its own goroutine.
func (b *BestEffort) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	go b.Run(ctx, name, fn)
}
