package sched

import (
	"context"
	"errors"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/infra/metrics"
	red "hotspot-billing/internal/infra/redis"

	"github.com/rs/zerolog"
)

// runExclusive runs fn only if the job lock is free. A nil locker means this
// is the only replica.
func runExclusive(ctx context.Context, locker red.Locker, job string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context) error) {
	if locker != nil {
		key := red.JobLockKey(job)
		token, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				log.Debug().Str("job", job).Msg("another replica holds the job lock")
				metrics.IncJobRun(job, "skipped")
				return
			}
			log.Warn().Err(err).Str("job", job).Msg("job lock unavailable; skipping pass")
			metrics.IncJobRun(job, "skipped")
			return
		}
		defer func() {
			if err := locker.Unlock(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Str("job", job).Msg("failed to release job lock")
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	if err := fn(runCtx); err != nil {
		metrics.IncJobRun(job, "error")
		log.Error().Err(err).Str("job", job).Msg("job pass failed")
		return
	}
	metrics.IncJobRun(job, "ok")
}
