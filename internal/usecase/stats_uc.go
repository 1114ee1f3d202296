package usecase

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// StatsUseCase aggregates payment and session figures for operators.
type StatsUseCase interface {
	Dashboard(ctx context.Context) (*Dashboard, error)
}

type Dashboard struct {
	Payments     map[model.PaymentStatus]int
	Sessions     map[model.SessionStatus]int
	Revenue      int64 // COMPLETED amounts, minor units
	RevenueToday int64 // since local midnight
}

type statsUC struct {
	payments repository.PaymentRepository
	sessions repository.SessionRepository
	now      func() time.Time
	log      *zerolog.Logger
}

func NewStatsUseCase(payments repository.PaymentRepository, sessions repository.SessionRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{
		payments: payments,
		sessions: sessions,
		now:      time.Now,
		log:      logging.Component(logger, "StatsUC"),
	}
}

func (s *statsUC) Dashboard(ctx context.Context) (*Dashboard, error) {
	defer logging.TraceDuration(s.log, "StatsUC.Dashboard")()

	payments, err := s.payments.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	total, err := s.payments.SumCompletedSince(ctx, repository.NoTX, time.Time{})
	if err != nil {
		return nil, err
	}
	now := s.now()
	y, m, d := now.Date()
	today, err := s.payments.SumCompletedSince(ctx, repository.NoTX, time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	if err != nil {
		return nil, err
	}
	return &Dashboard{Payments: payments, Sessions: sessions, Revenue: total, RevenueToday: today}, nil
}
