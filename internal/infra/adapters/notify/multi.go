package notify

import (
	"context"
	"errors"

	"hotspot-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// Multi sends through every notifier and joins the failures.
type Multi []adapter.Notifier

func (m Multi) Send(ctx context.Context, to, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, to, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop logs instead of sending; used in dev mode and when a channel is not configured.
type Noop struct {
	log *zerolog.Logger
}

func NewNoop(channel string, logger *zerolog.Logger) *Noop {
	l := logger.With().Str("component", "NoopNotifier").Str("channel", channel).Logger()
	return &Noop{log: &l}
}

func (n *Noop) Send(_ context.Context, to, message string) error {
	n.log.Info().Str("to", to).Str("message", message).Msg("notification (not sent)")
	return nil
}
