package adapter

import "context"

// PushRequest asks the provider to prompt the customer's handset for payment.
type PushRequest struct {
	Phone       string // any accepted format; the adapter normalizes
	Amount      int64  // minor units
	Reference   string // account reference shown to the customer
	Description string
}

// PushResult is the provider's acceptance of a push request.
type PushResult struct {
	CorrelationID     string
	MerchantRequestID string
	CustomerMessage   string
}

// CallbackResult is a provider outcome, parsed from a webhook or a status query.
type CallbackResult struct {
	CorrelationID string
	Success       bool
	ResultCode    int
	ResultDesc    string
	Receipt       string
	Amount        int64 // minor units, zero when absent
	Phone         string
	// Pending is set by QueryPush while the customer has not yet answered.
	Pending bool
}

// PaymentGateway is the hex port for mobile-money push providers.
//
// InitiatePush returns an error wrapping domain.ErrGatewayUnavailable for
// retryable failures (transport, auth, provider outage) and
// domain.ErrGatewayRejected when the provider refused the request.
type PaymentGateway interface {
	Name() string
	InitiatePush(ctx context.Context, req PushRequest) (PushResult, error)
	// ParseCallback is pure: it validates and normalizes a webhook body.
	ParseCallback(raw []byte) (CallbackResult, error)
	QueryPush(ctx context.Context, correlationID string) (CallbackResult, error)
}
