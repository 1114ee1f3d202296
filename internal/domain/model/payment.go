package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // push requested; awaiting provider callback
	PaymentStatusCompleted PaymentStatus = "COMPLETED" // provider reported success
	PaymentStatusFailed    PaymentStatus = "FAILED"    // provider reported failure, rejected, or abandoned
	PaymentStatusCancelled PaymentStatus = "CANCELLED" // admin cancel
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the payment state machine: only PENDING moves, and only to a terminal state.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return s == PaymentStatusPending && to.IsTerminal()
}

// Payment records one mobile-money purchase attempt.
type Payment struct {
	ID                string // UUID
	UserID            string // UUID
	PlanID            string // UUID
	Amount            int64  // minor currency units
	CorrelationID     string // provider CheckoutRequestID; empty until the push is accepted
	MerchantRequestID string
	ReceiptNumber     string // provider receipt; empty until completed
	ResultDesc        string
	Status            PaymentStatus
	SessionID         *string    // session granted (or already active) for this payment
	LastQueriedAt     *time.Time // last provider status query for a missing callback
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Reference is the short account reference shown on the customer's handset.
func (p *Payment) Reference(prefix string) string {
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + id
}
