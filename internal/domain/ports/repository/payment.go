package repository

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByCorrelationID locks the row when called inside a transaction.
	FindByCorrelationID(ctx context.Context, tx Tx, correlationID string) (*model.Payment, error)
	// SetCorrelationID stores the provider identifiers; ErrAlreadyExists when the
	// correlation id is already owned by another payment.
	SetCorrelationID(ctx context.Context, tx Tx, id, correlationID, merchantRequestID string) error
	// UpdateStatusIfPending moves a PENDING payment to status and reports whether
	// this call performed the transition.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus, receipt, resultDesc string) (bool, error)
	LinkSession(ctx context.Context, tx Tx, id, sessionID string) error
	// ListUnsent returns PENDING payments without a correlation id created
	// before cutoff, oldest first.
	ListUnsent(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Payment, error)
	// ListAwaitingCallback returns PENDING payments with a correlation id
	// created before cutoff, least recently queried first.
	ListAwaitingCallback(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Payment, error)
	// MarkQueried records a provider status query so the row rotates behind
	// payments not yet queried.
	MarkQueried(ctx context.Context, tx Tx, id string, at time.Time) error
	CountByStatus(ctx context.Context, tx Tx) (map[model.PaymentStatus]int, error)
	// SumCompletedSince totals COMPLETED amounts created at or after since.
	SumCompletedSince(ctx context.Context, tx Tx, since time.Time) (int64, error)
}
