package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/ports/usecase"
	"media-pipeline/internal/infra/metrics"
)

// Locker keeps concurrent replicas from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const sweepLockKey = "lock:timeout-sweep"

// TimeoutMonitor periodically fails outputs stuck in PROCESSING. It never
// stops because of a failed sweep.
type TimeoutMonitor struct {
	interval  time.Duration
	reclaimer usecase.Reclaimer
	locker    Locker
	log       *zerolog.Logger
}

// NewTimeoutMonitor builds the monitor. locker may be nil for a single
// instance deployment.
func NewTimeoutMonitor(interval time.Duration, reclaimer usecase.Reclaimer, locker Locker, logger *zerolog.Logger) *TimeoutMonitor {
	compLog := logger.With().Str("component", "TimeoutMonitor").Logger()
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &TimeoutMonitor{
		interval:  interval,
		reclaimer: reclaimer,
		locker:    locker,
		log:       &compLog,
	}
}

func (m *TimeoutMonitor) Run(ctx context.Context) error {
	m.log.Info().Dur("interval", m.interval).Msg("Starting timeout monitor")
	// Run once on startup, then on every tick
	m.Sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Stopping timeout monitor")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation pass. Errors and panics are logged only.
func (m *TimeoutMonitor) Sweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncSweep("error")
			m.log.Error().Str("panic", fmt.Sprint(rec)).Msg("timeout sweep panicked")
		}
	}()

	if m.locker != nil {
		token, err := m.locker.TryLock(ctx, sweepLockKey, m.interval/2)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				metrics.IncSweep("skipped")
				m.log.Debug().Msg("another instance is sweeping")
			} else {
				metrics.IncSweep("error")
				m.log.Error().Err(err).Msg("acquire sweep lock")
			}
			return
		}
		defer func() {
			if err := m.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				m.log.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}

	start := time.Now()
	report, err := m.reclaimer.ReclaimStale(ctx)
	if err != nil {
		metrics.IncSweep("error")
		m.log.Error().Err(err).Msg("timeout sweep failed")
		return
	}
	metrics.IncSweep("ok")
	ev := m.log.Debug()
	if len(report.Reclaimed) > 0 || report.Errors > 0 {
		ev = m.log.Info()
	}
	ev.Int("reclaimed", len(report.Reclaimed)).
		Int("submissions", len(report.Submissions)).
		Int("errors", report.Errors).
		Dur("took", time.Since(start)).
		Msg("timeout sweep finished")
}
