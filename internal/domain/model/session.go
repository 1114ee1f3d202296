package model

import (
	"time"

	"hotspot-billing/internal/domain"
)

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusExpired    SessionStatus = "EXPIRED"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

func (s SessionStatus) IsTerminal() bool { return s != SessionStatusActive }

// Session is a time-bounded network access grant produced by a completed payment.
type Session struct {
	ID           string
	UserID       string
	PlanID       string
	PaymentID    string // unique: one payment grants at most one session
	Token        string
	StartTime    time.Time
	EndTime      time.Time
	Status       SessionStatus
	DataUsed     int64
	RouterHandle *string
	UpdatedAt    time.Time
}

// NewSession starts a session now, ending after the plan duration.
func NewSession(id, userID, paymentID, token string, plan *Plan, now time.Time) (*Session, error) {
	if id == "" || userID == "" || token == "" || plan.IsZero() || plan.DurationHours <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.ID,
		PaymentID: paymentID,
		Token:     token,
		StartTime: now,
		EndTime:   now.Add(plan.Duration()),
		Status:    SessionStatusActive,
		UpdatedAt: now,
	}, nil
}

// ExpiredAt reports whether the session is past its end time at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.EndTime)
}

// LiveAt reports whether the session grants access at now.
func (s *Session) LiveAt(now time.Time) bool {
	return s.Status == SessionStatusActive && !s.ExpiredAt(now)
}

// Remaining is the time left on a live session.
func (s *Session) Remaining(now time.Time) time.Duration {
	if !s.LiveAt(now) {
		return 0
	}
	return s.EndTime.Sub(now)
}
