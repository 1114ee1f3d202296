package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hotspot-billing/internal/domain/ports/adapter"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var _ adapter.EventPublisher = (*RabbitMQPublisher)(nil)

// publishChannel is the part of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes domain events to a topic exchange; the event
// type is the routing key.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  publishChannel
	exchange string
	log      *zerolog.Logger
	mu       sync.Mutex
}

// envelope is the wire form of an event.
type envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

func NewRabbitMQPublisher(url, exchange string, logger *zerolog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	p.log.Info().Str("exchange", exchange).Msg("RabbitMQ publisher connected")
	return p, nil
}

func newPublisher(ch publishChannel, exchange string, logger *zerolog.Logger) *RabbitMQPublisher {
	l := logger.With().Str("component", "RabbitMQPublisher").Logger()
	return &RabbitMQPublisher{channel: ch, exchange: exchange, log: &l}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, e adapter.Event) error {
	body, err := json.Marshal(envelope{ID: e.ID, Type: e.Type, OccurredAt: e.OccurredAt, Data: e.Data})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		e.Type,     // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Type:         e.Type,
			Timestamp:    e.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.log.Debug().Str("routing_key", e.Type).Int("size", len(body)).Msg("event published")
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher logs events at debug level and drops them.
type NoopPublisher struct {
	log *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	l := logger.With().Str("component", "NoopPublisher").Logger()
	return &NoopPublisher{log: &l}
}

func (p *NoopPublisher) Publish(_ context.Context, e adapter.Event) error {
	p.log.Debug().Str("event", e.Type).Str("event_id", e.ID).Msg("noop publish")
	return nil
}
