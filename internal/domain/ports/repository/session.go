package repository

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/model"
)

// -----------------------------
// Sessions
// -----------------------------

type SessionRepository interface {
	// Create inserts s. ErrActiveSessionExists when another ACTIVE session exists
	// for the same (user, plan) or the payment already granted a session.
	Create(ctx context.Context, tx Tx, s *model.Session) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Session, error)
	FindByToken(ctx context.Context, tx Tx, token string) (*model.Session, error)
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Session, error)
	// FindActiveByUserAndPlan returns the ACTIVE session (live or not) for the pair.
	FindActiveByUserAndPlan(ctx context.Context, tx Tx, userID, planID string) (*model.Session, error)
	// LockPair serializes session creation for (user, plan) until tx ends.
	LockPair(ctx context.Context, tx Tx, userID, planID string) error

	// MarkExpiredIfActive and MarkTerminatedIfActive report whether this call
	// performed the ACTIVE -> terminal transition.
	MarkExpiredIfActive(ctx context.Context, tx Tx, id string) (bool, error)
	MarkTerminatedIfActive(ctx context.Context, tx Tx, id string) (bool, error)

	// ListExpired returns ACTIVE sessions whose end time is before now.
	ListExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Session, error)
	List(ctx context.Context, tx Tx, status model.SessionStatus, limit int) ([]*model.Session, error)

	UpdateRouterHandle(ctx context.Context, tx Tx, id, handle string) error
	UpdateDataUsed(ctx context.Context, tx Tx, id string, bytes int64) error
	CountByStatus(ctx context.Context, tx Tx) (map[model.SessionStatus]int, error)
}
