package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

var _ adapter.PaymentGateway = (*SimulatorGateway)(nil)

// CallbackSink receives simulated webhook bodies.
type CallbackSink func(ctx context.Context, raw []byte)

// SimulatorGateway stands in for Daraja in development. Every accepted push
// produces a Daraja-shaped callback after a delay; numbers in failPhones get
// a "cancelled by user" result instead of a receipt.
type SimulatorGateway struct {
	delay      time.Duration
	failPhones map[string]bool
	log        *zerolog.Logger

	mu       sync.Mutex
	sink     CallbackSink
	outcomes map[string]adapter.CallbackResult // filled once the callback fired
	timers   map[string]*time.Timer
	stopped  bool
}

func NewSimulatorGateway(delay time.Duration, failPhones []string, logger *zerolog.Logger) *SimulatorGateway {
	fail := make(map[string]bool, len(failPhones))
	for _, p := range failPhones {
		if n, err := model.NormalizePhone(p); err == nil {
			fail[n] = true
		}
	}
	compLog := logger.With().Str("component", "SimulatorGateway").Logger()
	return &SimulatorGateway{
		delay:      delay,
		failPhones: fail,
		log:        &compLog,
		outcomes:   make(map[string]adapter.CallbackResult),
		timers:     make(map[string]*time.Timer),
	}
}

// SetSink wires the simulator to the reconciler; without a sink callbacks
// are only recorded for QueryPush.
func (g *SimulatorGateway) SetSink(sink CallbackSink) {
	g.mu.Lock()
	g.sink = sink
	g.mu.Unlock()
}

func (g *SimulatorGateway) Name() string { return "simulator" }

func (g *SimulatorGateway) InitiatePush(ctx context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	phone, err := model.NormalizePhone(req.Phone)
	if err != nil {
		return adapter.PushResult{}, fmt.Errorf("%w: phone %q", domain.ErrGatewayRejected, req.Phone)
	}
	if req.Amount <= 0 {
		return adapter.PushResult{}, fmt.Errorf("%w: amount %d", domain.ErrGatewayRejected, req.Amount)
	}

	id := ulid.Make().String()
	res := adapter.PushResult{
		CorrelationID:     "ws_CO_SIM_" + id,
		MerchantRequestID: "SIM-" + id,
		CustomerMessage:   "Success. Request accepted for processing",
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return adapter.PushResult{}, fmt.Errorf("%w: simulator stopped", domain.ErrGatewayUnavailable)
	}
	g.timers[res.CorrelationID] = time.AfterFunc(g.delay, func() {
		g.fire(res, phone, req.Amount)
	})
	g.log.Debug().Str("correlation_id", res.CorrelationID).Dur("delay", g.delay).Msg("simulated push accepted")
	return res, nil
}

func (g *SimulatorGateway) fire(push adapter.PushResult, phone string, amount int64) {
	var (
		raw []byte
		out adapter.CallbackResult
		err error
	)
	if g.failPhones[phone] {
		out = adapter.CallbackResult{CorrelationID: push.CorrelationID, ResultCode: 1032, ResultDesc: "Request cancelled by user"}
		raw, err = NewStkCallback(push.MerchantRequestID, push.CorrelationID, out.ResultCode, out.ResultDesc)
	} else {
		receipt := "SIM" + strings.ToUpper(ulid.Make().String()[16:])
		out = adapter.CallbackResult{
			CorrelationID: push.CorrelationID,
			Success:       true,
			ResultDesc:    "The service request is processed successfully.",
			Receipt:       receipt,
			Amount:        amount,
			Phone:         phone,
		}
		raw, err = NewStkCallback(push.MerchantRequestID, push.CorrelationID, 0, out.ResultDesc,
			Item("Amount", float64(amount)/100),
			Item("MpesaReceiptNumber", receipt),
			Item("TransactionDate", time.Now().In(eat).Format("20060102150405")),
			Item("PhoneNumber", phone),
		)
	}
	if err != nil {
		g.log.Error().Err(err).Msg("build simulated callback")
		return
	}

	g.mu.Lock()
	delete(g.timers, push.CorrelationID)
	g.outcomes[push.CorrelationID] = out
	sink := g.sink
	stopped := g.stopped
	g.mu.Unlock()

	if sink == nil || stopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sink(ctx, raw)
}

func (g *SimulatorGateway) ParseCallback(raw []byte) (adapter.CallbackResult, error) {
	return ParseStkCallback(raw)
}

func (g *SimulatorGateway) QueryPush(_ context.Context, correlationID string) (adapter.CallbackResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if out, ok := g.outcomes[correlationID]; ok {
		return out, nil
	}
	if _, ok := g.timers[correlationID]; ok {
		return adapter.CallbackResult{CorrelationID: correlationID, Pending: true}, nil
	}
	return adapter.CallbackResult{}, fmt.Errorf("%w: unknown CheckoutRequestID %q", domain.ErrGatewayRejected, correlationID)
}

// Stop cancels callbacks that have not fired yet.
func (g *SimulatorGateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}
