package sched

import (
	"context"
	"time"

	red "hotspot-billing/internal/infra/redis"
	"hotspot-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// SessionSweeper periodically expires sessions past their end time and
// refreshes per-session usage from the router.
type SessionSweeper struct {
	interval time.Duration
	sessions usecase.SessionUseCase
	locker   red.Locker
	log      *zerolog.Logger
}

func NewSessionSweeper(interval time.Duration, sessions usecase.SessionUseCase, locker red.Locker, logger *zerolog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	compLog := logger.With().Str("component", "SessionSweeper").Logger()
	return &SessionSweeper{
		interval: interval,
		sessions: sessions,
		locker:   locker,
		log:      &compLog,
	}
}

func (w *SessionSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting session sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping session sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass followed by a usage sync.
func (w *SessionSweeper) Tick(ctx context.Context) {
	runExclusive(ctx, w.locker, "session_sweep", w.interval, w.log, func(ctx context.Context) error {
		n, err := w.sessions.Sweep(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			w.log.Info().Int("count", n).Msg("sessions expired")
		}
		if _, err := w.sessions.SyncUsage(ctx); err != nil {
			// the router may be unreachable; expiry already happened
			w.log.Warn().Err(err).Msg("usage sync skipped")
		}
		return nil
	})
}
