package adapter

import (
	"context"
	"time"
)

const (
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentCancelled  = "payment.cancelled"
	EventSessionCreated    = "session.created"
	EventSessionExpired    = "session.expired"
	EventSessionTerminated = "session.terminated"
)

// Event is a domain fact published after it has been committed.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Data       map[string]any
}

// EventPublisher fans committed domain events out to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
