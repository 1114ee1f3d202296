package usecase

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/infra/metrics"
	"hotspot-billing/internal/infra/worker"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// NotificationUseCase fans out messages and domain events off the request
// path. Every method returns immediately; delivery failures are only logged.
type NotificationUseCase interface {
	NotifyCustomer(phone, message string)
	NotifyOps(message string)
	Publish(eventType string, data map[string]any)
}

// Submitter queues background work; *worker.Pool satisfies it.
type Submitter interface {
	Submit(task worker.Task) error
}

type notificationUC struct {
	customer adapter.Notifier
	ops      adapter.Notifier
	events   adapter.EventPublisher
	pool     Submitter
	timeout  time.Duration
	dev      bool
	log      *zerolog.Logger
}

func NewNotificationUseCase(customer, ops adapter.Notifier, events adapter.EventPublisher, pool Submitter, dev bool, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{
		customer: customer,
		ops:      ops,
		events:   events,
		pool:     pool,
		timeout:  15 * time.Second,
		dev:      dev,
		log:      logging.Component(logger, "NotificationUC"),
	}
}

func (n *notificationUC) NotifyCustomer(phone, message string) {
	if n.customer == nil || phone == "" {
		return
	}
	n.submit("sms", func(ctx context.Context) error {
		err := n.customer.Send(ctx, phone, message)
		if err != nil {
			n.log.Warn().Err(err).Str("to", logging.Redact(phone, n.dev)).Msg("customer notification failed")
		}
		return err
	})
}

func (n *notificationUC) NotifyOps(message string) {
	if n.ops == nil {
		return
	}
	n.submit("ops", func(ctx context.Context) error {
		err := n.ops.Send(ctx, "", message)
		if err != nil {
			n.log.Warn().Err(err).Msg("ops notification failed")
		}
		return err
	})
}

func (n *notificationUC) Publish(eventType string, data map[string]any) {
	if n.events == nil {
		return
	}
	e := adapter.Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	n.submit("event", func(ctx context.Context) error {
		err := n.events.Publish(ctx, e)
		if err != nil {
			n.log.Warn().Err(err).Str("event", e.Type).Str("event_id", e.ID).Msg("event publish failed")
		}
		return err
	})
}

func (n *notificationUC) submit(channel string, send func(ctx context.Context) error) {
	err := n.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		err := send(ctx)
		if err != nil {
			metrics.IncNotification(channel, "error")
			return nil // already logged
		}
		metrics.IncNotification(channel, "sent")
		return nil
	})
	if err != nil {
		metrics.IncNotification(channel, "dropped")
		n.log.Warn().Err(err).Str("channel", channel).Msg("notification dropped")
	}
}
