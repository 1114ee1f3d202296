package adapter

import "context"

// Notifier delivers a short text message to a recipient (a phone number for
// SMS, a chat for ops channels). Callers treat failures as best-effort.
type Notifier interface {
	Send(ctx context.Context, to, message string) error
}
