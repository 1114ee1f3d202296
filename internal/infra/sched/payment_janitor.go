package sched

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/ports/repository"
	red "hotspot-billing/internal/infra/redis"
	"hotspot-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// PaymentJanitor resolves payments stuck in PENDING. Pushes the provider
// accepted are queried once they are older than queryAfter; pushes that never
// got a correlation id are failed after abandonAfter, since no callback can
// ever reference them.
type PaymentJanitor struct {
	uc           usecase.PaymentUseCase
	payments     repository.PaymentRepository
	locker       red.Locker
	interval     time.Duration
	queryAfter   time.Duration
	abandonAfter time.Duration
	batch        int
	now          func() time.Time
	log          *zerolog.Logger
}

func NewPaymentJanitor(uc usecase.PaymentUseCase, payments repository.PaymentRepository, locker red.Locker, interval, queryAfter, abandonAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if queryAfter <= 0 {
		queryAfter = 2 * time.Minute
	}
	if abandonAfter < queryAfter {
		abandonAfter = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	compLog := logger.With().Str("component", "PaymentJanitor").Logger()
	return &PaymentJanitor{
		uc:           uc,
		payments:     payments,
		locker:       locker,
		interval:     interval,
		queryAfter:   queryAfter,
		abandonAfter: abandonAfter,
		batch:        batch,
		now:          time.Now,
		log:          &compLog,
	}
}

func (w *PaymentJanitor) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment janitor")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment janitor")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass.
func (w *PaymentJanitor) Tick(ctx context.Context) {
	runExclusive(ctx, w.locker, "payment_janitor", w.interval, w.log, w.pass)
}

// pass abandons unsent pushes first, then queries the provider for pushes
// still awaiting a callback. Every queried row is stamped so rows the provider
// keeps reporting as pending rotate behind the rest of the backlog.
func (w *PaymentJanitor) pass(ctx context.Context) error {
	now := w.now()
	unsent, err := w.payments.ListUnsent(ctx, repository.NoTX, now.Add(-w.abandonAfter), w.batch)
	if err != nil {
		return err
	}
	for _, p := range unsent {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.uc.Abandon(ctx, p.ID); err != nil {
			w.log.Warn().Err(err).Str("payment_id", p.ID).Msg("abandon failed")
		}
	}

	awaiting, err := w.payments.ListAwaitingCallback(ctx, repository.NoTX, now.Add(-w.queryAfter), w.batch)
	if err != nil {
		return err
	}
	for _, p := range awaiting {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := w.log.With().Str("payment_id", p.ID).Str("correlation_id", p.CorrelationID).Logger()

		out, err := w.uc.Reconcile(ctx, p)
		if merr := w.payments.MarkQueried(ctx, repository.NoTX, p.ID, w.now()); merr != nil {
			log.Warn().Err(merr).Msg("failed to stamp status query")
		}
		if err != nil {
			log.Warn().Err(err).Msg("status query failed")
			continue
		}
		log.Debug().Str("outcome", string(out.Kind)).Str("status", string(out.Status)).Msg("pending payment reconciled")
	}
	return nil
}
