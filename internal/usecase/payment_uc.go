// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase is the payment reconciler: the single owner of payment state
// transitions and the only path from a provider outcome to a session.
type PaymentUseCase interface {
	// Initiate records a PENDING payment and asks the provider to push a
	// payment prompt to the customer's handset.
	Initiate(ctx context.Context, phone, planID string, amount int64) (*InitiateResult, error)
	// HandleCallback applies a provider webhook. It never fails: bad payloads
	// and unknown correlation ids are logged and reported in the outcome.
	HandleCallback(ctx context.Context, raw []byte) CallbackOutcome
	// PollStatus is a read-only projection for clients waiting on a push.
	PollStatus(ctx context.Context, correlationID string) (*StatusView, error)
	// Cancel moves a PENDING payment to CANCELLED.
	Cancel(ctx context.Context, paymentID string) (*model.Payment, error)
	// Reconcile asks the provider for the outcome of a push whose callback
	// never arrived and applies it like a callback.
	Reconcile(ctx context.Context, p *model.Payment) (CallbackOutcome, error)
	// Abandon fails a PENDING payment that never obtained a correlation id.
	Abandon(ctx context.Context, paymentID string) (bool, error)
}

type InitiateResult struct {
	PaymentID       string
	CorrelationID   string
	CustomerMessage string
}

type OutcomeKind string

const (
	OutcomeApplied   OutcomeKind = "applied"   // this call performed the transition
	OutcomeDuplicate OutcomeKind = "duplicate" // payment already terminal; nothing changed
	OutcomeUnknown   OutcomeKind = "unknown"   // no payment carries the correlation id
	OutcomeIgnored   OutcomeKind = "ignored"   // unparseable payload
	OutcomePending   OutcomeKind = "pending"   // provider has no final result yet
	OutcomeError     OutcomeKind = "error"     // storage failure; state unchanged
)

// CallbackOutcome describes what applying a provider result did.
type CallbackOutcome struct {
	Kind         OutcomeKind
	PaymentID    string
	Status       model.PaymentStatus
	SessionToken string
}

// StatusView is what a polling client sees.
type StatusView struct {
	Status       model.PaymentStatus
	Amount       int64
	ResultDesc   string
	SessionToken string // set only when COMPLETED
}

// PaymentOptions carries the static knobs of the reconciler.
type PaymentOptions struct {
	ReferencePrefix string
	Currency        string
}

type paymentUC struct {
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	sessions repository.SessionRepository // read-only; writes go through the ledger
	tm       repository.TransactionManager
	users    UserUseCase
	ledger   SessionUseCase
	gateway  adapter.PaymentGateway
	notify   NotificationUseCase
	opts     PaymentOptions
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	sessions repository.SessionRepository,
	tm repository.TransactionManager,
	users UserUseCase,
	ledger SessionUseCase,
	gateway adapter.PaymentGateway,
	notify NotificationUseCase,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.Currency == "" {
		opts.Currency = "KES"
	}
	return &paymentUC{
		payments: payments,
		plans:    plans,
		sessions: sessions,
		tm:       tm,
		users:    users,
		ledger:   ledger,
		gateway:  gateway,
		notify:   notify,
		opts:     opts,
		log:      logging.Component(logger, "PaymentUC"),
	}
}

func (u *paymentUC) Initiate(ctx context.Context, phone, planID string, amount int64) (*InitiateResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initiate")()

	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}
	if amount != plan.Price {
		return nil, fmt.Errorf("%w: amount %s does not match plan price %s",
			domain.ErrInvalidArgument, model.FormatAmount(amount), model.FormatAmount(plan.Price))
	}
	user, err := u.users.ResolveByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Payment{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		PlanID:    plan.ID,
		Amount:    plan.Price,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	metrics.IncPayment("initiated")
	log := u.log.With().Str("payment_id", p.ID).Str("user_id", user.ID).Logger()

	started := time.Now()
	res, err := u.gateway.InitiatePush(ctx, adapter.PushRequest{
		Phone:       user.Phone,
		Amount:      p.Amount,
		Reference:   p.Reference(u.opts.ReferencePrefix),
		Description: "Payment for " + plan.Name,
	})
	metrics.ObserveGateway(u.gateway.Name(), "push", started, err)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) {
			log.Warn().Err(err).Msg("push rejected by provider")
			u.fail(ctx, p, err.Error())
			return nil, err
		}
		// no callback can reference this payment; the janitor fails it later
		log.Warn().Err(err).Msg("push failed; payment left pending without correlation id")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	if err := u.storeCorrelation(ctx, p.ID, res); err != nil {
		// the customer may still pay; the operator needs these ids to match the receipt
		log.Error().Err(err).
			Str("correlation_id", res.CorrelationID).
			Str("merchant_request_id", res.MerchantRequestID).
			Int64("amount", p.Amount).
			Msg("accepted push not recorded; reconcile manually")
		return nil, err
	}
	log.Info().Str("correlation_id", res.CorrelationID).Msg("push initiated")

	return &InitiateResult{
		PaymentID:       p.ID,
		CorrelationID:   res.CorrelationID,
		CustomerMessage: res.CustomerMessage,
	}, nil
}

// storeCorrelation links an accepted push to its payment, retrying once on a
// context detached from the caller.
func (u *paymentUC) storeCorrelation(ctx context.Context, paymentID string, res adapter.PushResult) error {
	err := u.payments.SetCorrelationID(ctx, repository.NoTX, paymentID, res.CorrelationID, res.MerchantRequestID)
	if err == nil || errors.Is(err, domain.ErrAlreadyExists) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	u.log.Warn().Err(err).Str("payment_id", paymentID).Msg("storing correlation id failed; retrying")
	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return u.payments.SetCorrelationID(retryCtx, repository.NoTX, paymentID, res.CorrelationID, res.MerchantRequestID)
}

func (u *paymentUC) fail(ctx context.Context, p *model.Payment, reason string) {
	moved, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusFailed, "", reason)
	if err != nil {
		u.log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to mark payment failed")
		return
	}
	if moved {
		p.Status = model.PaymentStatusFailed
		metrics.IncPayment(string(model.PaymentStatusFailed))
		u.publish(adapter.EventPaymentFailed, p, reason)
	}
}

func (u *paymentUC) HandleCallback(ctx context.Context, raw []byte) CallbackOutcome {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleCallback")()

	res, err := u.gateway.ParseCallback(raw)
	if err != nil {
		u.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping unparseable callback")
		metrics.IncCallback("webhook", string(OutcomeIgnored))
		return CallbackOutcome{Kind: OutcomeIgnored}
	}
	out, err := u.apply(ctx, res)
	if err != nil {
		u.log.Error().Err(err).Str("correlation_id", res.CorrelationID).Msg("callback not applied")
	}
	metrics.IncCallback("webhook", string(out.Kind))
	return out
}

func (u *paymentUC) Reconcile(ctx context.Context, p *model.Payment) (CallbackOutcome, error) {
	if p.CorrelationID == "" {
		return CallbackOutcome{Kind: OutcomeIgnored, PaymentID: p.ID, Status: p.Status}, nil
	}
	started := time.Now()
	res, err := u.gateway.QueryPush(ctx, p.CorrelationID)
	metrics.ObserveGateway(u.gateway.Name(), "query", started, err)
	if err != nil {
		return CallbackOutcome{Kind: OutcomeError, PaymentID: p.ID, Status: p.Status}, err
	}
	if res.Pending {
		metrics.IncCallback("query", string(OutcomePending))
		return CallbackOutcome{Kind: OutcomePending, PaymentID: p.ID, Status: p.Status}, nil
	}
	res.CorrelationID = p.CorrelationID
	out, err := u.apply(ctx, res)
	metrics.IncCallback("query", string(out.Kind))
	return out, err
}

// apply performs the guarded transition for one provider result. The row
// lock and the conditional update serialize results for one correlation id;
// the first writer wins and later ones observe a terminal payment.
func (u *paymentUC) apply(ctx context.Context, res adapter.CallbackResult) (CallbackOutcome, error) {
	ctx = logging.WithCorrelationID(ctx, res.CorrelationID)
	log := logging.With(ctx, u.log)

	var (
		out   CallbackOutcome
		pay   *model.Payment
		plan  *model.Plan
		grant *Grant
	)
	err := u.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		out, pay, plan, grant = CallbackOutcome{}, nil, nil, nil

		p, err := u.payments.FindByCorrelationID(ctx, tx, res.CorrelationID)
		if errors.Is(err, domain.ErrNotFound) {
			out.Kind = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			out, err = u.duplicate(ctx, tx, p)
			return err
		}

		target := model.PaymentStatusFailed
		if res.Success {
			target = model.PaymentStatusCompleted
		}
		moved, err := u.payments.UpdateStatusIfPending(ctx, tx, p.ID, target, res.Receipt, res.ResultDesc)
		if err != nil {
			return err
		}
		if !moved {
			if p, err = u.payments.FindByID(ctx, tx, p.ID); err != nil {
				return err
			}
			out, err = u.duplicate(ctx, tx, p)
			return err
		}

		p.Status = target
		p.ReceiptNumber = res.Receipt
		p.ResultDesc = res.ResultDesc
		pay = p
		out = CallbackOutcome{Kind: OutcomeApplied, PaymentID: p.ID, Status: target}
		if target != model.PaymentStatusCompleted {
			return nil
		}

		if res.Amount > 0 && res.Amount != p.Amount {
			log.Warn().Int64("expected", p.Amount).Int64("reported", res.Amount).Msg("provider amount differs from payment amount")
		}
		if plan, err = u.plans.FindByID(ctx, tx, p.PlanID); err != nil {
			return err
		}
		if grant, err = u.ledger.OpenInTx(ctx, tx, p.UserID, plan, p.ID); err != nil {
			return err
		}
		if err := u.payments.LinkSession(ctx, tx, p.ID, grant.Session.ID); err != nil {
			return err
		}
		sid := grant.Session.ID
		p.SessionID = &sid
		out.SessionToken = grant.Session.Token
		return nil
	})
	if err != nil {
		return CallbackOutcome{Kind: OutcomeError}, err
	}

	switch out.Kind {
	case OutcomeUnknown:
		log.Warn().Msg("callback for unknown correlation id ignored")
	case OutcomeDuplicate:
		log.Info().Str("payment_id", out.PaymentID).Str("status", string(out.Status)).Msg("duplicate provider result ignored")
	case OutcomeApplied:
		u.afterApply(ctx, log, pay, plan, grant)
	}
	return out, nil
}

func (u *paymentUC) duplicate(ctx context.Context, tx repository.Tx, p *model.Payment) (CallbackOutcome, error) {
	out := CallbackOutcome{Kind: OutcomeDuplicate, PaymentID: p.ID, Status: p.Status}
	if p.Status != model.PaymentStatusCompleted || p.SessionID == nil {
		return out, nil
	}
	sess, err := u.sessions.FindByID(ctx, tx, *p.SessionID)
	if err != nil {
		return out, err
	}
	out.SessionToken = sess.Token
	return out, nil
}

// afterApply runs the side effects of a committed transition. None of them
// can undo the billing state.
func (u *paymentUC) afterApply(ctx context.Context, log *zerolog.Logger, p *model.Payment, plan *model.Plan, grant *Grant) {
	metrics.IncPayment(string(p.Status))
	if p.Status != model.PaymentStatusCompleted {
		log.Info().Str("payment_id", p.ID).Str("result", p.ResultDesc).Msg("payment failed")
		u.publish(adapter.EventPaymentFailed, p, p.ResultDesc)
		return
	}

	metrics.AddPaymentRevenue(u.opts.Currency, p.Amount)
	log.Info().Str("payment_id", p.ID).Str("session_id", grant.Session.ID).Bool("new_session", grant.Created).Msg("payment completed")

	u.ledger.Activate(ctx, grant, plan)
	u.publish(adapter.EventPaymentCompleted, p, "")

	if u.notify == nil {
		return
	}
	if user, err := u.users.GetByID(ctx, p.UserID); err == nil {
		u.notify.NotifyCustomer(user.Phone, fmt.Sprintf(
			"Payment of %s %s received (receipt %s). Your %s access is active until %s.",
			u.opts.Currency, model.FormatAmount(p.Amount), p.ReceiptNumber, plan.Name,
			grant.Session.EndTime.Format("02 Jan 15:04"),
		))
	} else {
		log.Warn().Err(err).Str("user_id", p.UserID).Msg("no recipient for payment confirmation")
	}
	u.notify.NotifyOps(fmt.Sprintf("Payment %s %s completed for plan %s (receipt %s)",
		u.opts.Currency, model.FormatAmount(p.Amount), plan.Name, p.ReceiptNumber))
}

func (u *paymentUC) PollStatus(ctx context.Context, correlationID string) (*StatusView, error) {
	p, err := u.payments.FindByCorrelationID(ctx, repository.NoTX, correlationID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Status: p.Status, Amount: p.Amount, ResultDesc: p.ResultDesc}
	if p.Status == model.PaymentStatusCompleted && p.SessionID != nil {
		out, err := u.duplicate(ctx, repository.NoTX, p)
		if err != nil {
			return nil, err
		}
		view.SessionToken = out.SessionToken
	}
	return view, nil
}

func (u *paymentUC) Cancel(ctx context.Context, paymentID string) (*model.Payment, error) {
	moved, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, paymentID, model.PaymentStatusCancelled, "", "cancelled by operator")
	if err != nil {
		return nil, err
	}
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return p, fmt.Errorf("%w: payment is %s", domain.ErrInvalidTransition, p.Status)
	}
	metrics.IncPayment(string(model.PaymentStatusCancelled))
	u.publish(adapter.EventPaymentCancelled, p, p.ResultDesc)
	u.log.Info().Str("payment_id", p.ID).Msg("payment cancelled")
	return p, nil
}

func (u *paymentUC) Abandon(ctx context.Context, paymentID string) (bool, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return false, err
	}
	if p.CorrelationID != "" {
		return false, fmt.Errorf("%w: payment has a correlation id", domain.ErrInvalidTransition)
	}
	moved, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusFailed, "", "abandoned: push never reached the provider")
	if err != nil || !moved {
		return false, err
	}
	metrics.IncPayment(string(model.PaymentStatusFailed))
	u.publish(adapter.EventPaymentFailed, p, "abandoned")
	u.log.Info().Str("payment_id", p.ID).Msg("abandoned pending payment failed")
	return true, nil
}

func (u *paymentUC) publish(eventType string, p *model.Payment, reason string) {
	if u.notify == nil {
		return
	}
	data := map[string]any{
		"payment_id":     p.ID,
		"user_id":        p.UserID,
		"plan_id":        p.PlanID,
		"amount":         p.Amount,
		"currency":       u.opts.Currency,
		"correlation_id": p.CorrelationID,
		"receipt":        p.ReceiptNumber,
	}
	if reason != "" {
		data["reason"] = reason
	}
	if p.SessionID != nil {
		data["session_id"] = *p.SessionID
	}
	u.notify.Publish(eventType, data)
}
