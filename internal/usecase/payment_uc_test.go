//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/usecase"
)

func TestPaymentUseCase_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a pending payment and store the correlation id", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv(t)

		// --- Act ---
		res, err := env.payments.Initiate(ctx, "+254 712 345 678", env.plan.ID, env.plan.Price)

		// --- Assert ---
		require.NoError(t, err)
		assert.NotEmpty(t, res.CorrelationID)
		assert.NotEmpty(t, res.CustomerMessage)

		p, err := env.store.Payments.FindByCorrelationID(ctx, nil, res.CorrelationID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Equal(t, env.plan.Price, p.Amount)

		require.Len(t, env.gateway.pushes, 1)
		assert.Equal(t, "254712345678", env.gateway.pushes[0].Phone)
		assert.Equal(t, "WIFI"+p.ID[:8], env.gateway.pushes[0].Reference)
	})

	t.Run("should reuse the user for the same phone in any format", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.payments.Initiate(ctx, "0712345678", env.plan.ID, env.plan.Price)
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, "254712345678", env.plan.ID, env.plan.Price)
		require.NoError(t, err)

		u, err := env.store.Users.FindByPhone(ctx, nil, "254712345678")
		require.NoError(t, err)
		pending, err := env.store.Payments.ListAwaitingCallback(ctx, nil, time.Now().Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, u.ID, pending[0].UserID)
		assert.Equal(t, u.ID, pending[1].UserID)
	})

	t.Run("should validate input before touching the provider", func(t *testing.T) {
		env := newTestEnv(t)
		inactive := *env.plan
		inactive.ID, inactive.Active = "plan-old", false
		require.NoError(t, env.store.Plans.Save(ctx, nil, &inactive))

		cases := []struct {
			name   string
			phone  string
			plan   string
			amount int64
			want   error
		}{
			{"zero amount", testPhone, env.plan.ID, 0, domain.ErrInvalidArgument},
			{"negative amount", testPhone, env.plan.ID, -100, domain.ErrInvalidArgument},
			{"amount differs from price", testPhone, env.plan.ID, env.plan.Price - 1, domain.ErrInvalidArgument},
			{"unknown plan", testPhone, "nope", 100, domain.ErrNotFound},
			{"inactive plan", testPhone, inactive.ID, inactive.Price, domain.ErrPlanInactive},
			{"bad phone", "12345", env.plan.ID, env.plan.Price, domain.ErrInvalidArgument},
		}
		for _, c := range cases {
			_, err := env.payments.Initiate(ctx, c.phone, c.plan, c.amount)
			assert.Truef(t, errors.Is(err, c.want), "%s: expected %v, got %v", c.name, c.want, err)
		}
		assert.Empty(t, env.gateway.pushes)
	})

	t.Run("should fail the payment immediately when the provider rejects the push", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.pushErr = fmt.Errorf("%w: invalid shortcode", domain.ErrGatewayRejected)

		_, err := env.payments.Initiate(ctx, testPhone, env.plan.ID, env.plan.Price)
		require.True(t, errors.Is(err, domain.ErrGatewayRejected))

		counts, err := env.store.Payments.CountByStatus(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[model.PaymentStatusFailed])
		assert.Equal(t, 1, env.events.count(adapter.EventPaymentFailed))
	})

	t.Run("should leave the payment pending without correlation id when the provider is down", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.pushErr = errBoom

		_, err := env.payments.Initiate(ctx, testPhone, env.plan.ID, env.plan.Price)
		require.True(t, errors.Is(err, domain.ErrGatewayUnavailable))

		pending, err := env.store.Payments.ListUnsent(ctx, nil, time.Now().Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Empty(t, pending[0].CorrelationID)
	})
}

func TestPaymentUseCase_HandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("success round trip creates a 24h session and returns its token", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv(t)
		initiatedAt := time.Now()
		cid := env.initiate(t)

		// --- Act ---
		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "NLJ7RT61SV", env.plan.Price))
		view, err := env.payments.PollStatus(ctx, cid)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeApplied, out.Kind)
		assert.Equal(t, model.PaymentStatusCompleted, view.Status)
		require.NotEmpty(t, view.SessionToken)
		assert.Equal(t, out.SessionToken, view.SessionToken)

		sess, err := env.sessions.GetActiveSession(ctx, view.SessionToken)
		require.NoError(t, err)
		assert.WithinDuration(t, initiatedAt.Add(24*time.Hour), sess.EndTime, 5*time.Second)

		p, err := env.store.Payments.FindByCorrelationID(ctx, nil, cid)
		require.NoError(t, err)
		assert.Equal(t, "NLJ7RT61SV", p.ReceiptNumber)
		require.NotNil(t, p.SessionID)
		assert.Equal(t, sess.ID, *p.SessionID)

		assert.Equal(t, 1, env.router.grantCount())
		assert.Equal(t, 1, env.sms.count())
		assert.Equal(t, 1, env.events.count(adapter.EventPaymentCompleted))
		assert.Equal(t, 1, env.events.count(adapter.EventSessionCreated))
	})

	t.Run("failure round trip marks the payment failed with no token", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)

		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 1032, "", 0))
		view, err := env.payments.PollStatus(ctx, cid)

		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeApplied, out.Kind)
		assert.Equal(t, model.PaymentStatusFailed, view.Status)
		assert.Empty(t, view.SessionToken)
		assert.Equal(t, 0, env.sessionCount(t))
		assert.Equal(t, 0, env.router.grantCount())
	})

	t.Run("redelivered success payloads create exactly one session", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		raw := callbackJSON(t, cid, 0, "RCPT1", env.plan.Price)

		first := env.payments.HandleCallback(ctx, raw)
		for i := 0; i < 4; i++ {
			dup := env.payments.HandleCallback(ctx, raw)
			assert.Equal(t, usecase.OutcomeDuplicate, dup.Kind)
			assert.Equal(t, model.PaymentStatusCompleted, dup.Status)
			assert.Equal(t, first.SessionToken, dup.SessionToken)
		}

		assert.Equal(t, 1, env.sessionCount(t))
		assert.Equal(t, 1, env.router.grantCount())
		assert.Equal(t, 1, env.events.count(adapter.EventPaymentCompleted))
	})

	t.Run("concurrent duplicates perform one transition", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		raw := callbackJSON(t, cid, 0, "RCPT2", env.plan.Price)

		var wg sync.WaitGroup
		outcomes := make(chan usecase.CallbackOutcome, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes <- env.payments.HandleCallback(ctx, raw)
			}()
		}
		wg.Wait()
		close(outcomes)

		applied := 0
		for o := range outcomes {
			if o.Kind == usecase.OutcomeApplied {
				applied++
			}
		}
		assert.Equal(t, 1, applied)
		assert.Equal(t, 1, env.sessionCount(t))
	})

	t.Run("a late failure after success does not change the outcome", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "RCPT3", 0))

		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 1, "", 0))

		assert.Equal(t, usecase.OutcomeDuplicate, out.Kind)
		view, err := env.payments.PollStatus(ctx, cid)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, view.Status)
	})

	t.Run("unknown correlation id is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)

		out := env.payments.HandleCallback(ctx, callbackJSON(t, "ws_CO_does_not_exist", 0, "X", 0))

		assert.Equal(t, usecase.OutcomeUnknown, out.Kind)
		p, err := env.store.Payments.FindByCorrelationID(ctx, nil, cid)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Equal(t, 0, env.sessionCount(t))
	})

	t.Run("unparseable payloads are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		for _, raw := range [][]byte{nil, []byte("{"), []byte(`{"code":0}`)} {
			assert.Equal(t, usecase.OutcomeIgnored, env.payments.HandleCallback(ctx, raw).Kind)
		}
	})

	t.Run("second purchase of a live plan reuses the active session", func(t *testing.T) {
		env := newTestEnv(t)
		cid1 := env.initiate(t)
		first := env.payments.HandleCallback(ctx, callbackJSON(t, cid1, 0, "R1", 0))
		cid2 := env.initiate(t)

		second := env.payments.HandleCallback(ctx, callbackJSON(t, cid2, 0, "R2", 0))

		assert.Equal(t, usecase.OutcomeApplied, second.Kind)
		assert.Equal(t, first.SessionToken, second.SessionToken)
		assert.Equal(t, 1, env.sessionCount(t))
		sess, err := env.sessions.GetActiveSession(ctx, first.SessionToken)
		require.NoError(t, err)
		assert.WithinDuration(t, sess.StartTime.Add(24*time.Hour), sess.EndTime, time.Second, "session must not be extended")
	})

	t.Run("router outage does not roll back billing", func(t *testing.T) {
		env := newTestEnv(t)
		env.router.fail = true
		cid := env.initiate(t)

		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "R", 0))

		assert.Equal(t, usecase.OutcomeApplied, out.Kind)
		view, err := env.payments.PollStatus(ctx, cid)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, view.Status)
		assert.NotEmpty(t, view.SessionToken)
	})

	t.Run("notification failure does not affect the outcome", func(t *testing.T) {
		env := newTestEnv(t)
		env.sms.err = errBoom
		cid := env.initiate(t)

		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "R", 0))

		assert.Equal(t, usecase.OutcomeApplied, out.Kind)
		assert.Equal(t, model.PaymentStatusCompleted, out.Status)
	})
}

func TestPaymentUseCase_DuplicateThreeSecondsLater(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}
	ctx := context.Background()
	env := newTestEnv(t)
	cid := env.initiate(t)
	raw := callbackJSON(t, cid, 0, "RLATE", env.plan.Price)

	env.payments.HandleCallback(ctx, raw)
	time.Sleep(3 * time.Second)
	out := env.payments.HandleCallback(ctx, raw)

	assert.Equal(t, usecase.OutcomeDuplicate, out.Kind)
	assert.Equal(t, 1, env.sessionCount(t))
}

func TestPaymentUseCase_PollStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.payments.PollStatus(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	cid := env.initiate(t)
	for i := 0; i < 3; i++ {
		view, err := env.payments.PollStatus(ctx, cid)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, view.Status)
		assert.Empty(t, view.SessionToken)
	}
}

func TestPaymentUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("should cancel a pending payment and ignore its later callback", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		p, err := env.store.Payments.FindByCorrelationID(ctx, nil, cid)
		require.NoError(t, err)

		cancelled, err := env.payments.Cancel(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, cancelled.Status)

		out := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "R", 0))
		assert.Equal(t, usecase.OutcomeDuplicate, out.Kind)
		assert.Equal(t, 0, env.sessionCount(t))
	})

	t.Run("should refuse to cancel a terminal payment", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "R", 0))
		p, _ := env.store.Payments.FindByCorrelationID(ctx, nil, cid)

		_, err := env.payments.Cancel(ctx, p.ID)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		_, err = env.payments.Cancel(ctx, "missing")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPaymentUseCase_ReconcileAndAbandon(t *testing.T) {
	ctx := context.Background()

	t.Run("query result is applied like a callback", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		p, _ := env.store.Payments.FindByCorrelationID(ctx, nil, cid)
		env.gateway.queryRes = adapter.CallbackResult{Success: true, ResultCode: 0, ResultDesc: "ok"}

		out, err := env.payments.Reconcile(ctx, p)

		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomeApplied, out.Kind)
		assert.Equal(t, 1, env.sessionCount(t))

		// the real callback arriving afterwards is a duplicate
		late := env.payments.HandleCallback(ctx, callbackJSON(t, cid, 0, "R", 0))
		assert.Equal(t, usecase.OutcomeDuplicate, late.Kind)
		assert.Equal(t, 1, env.sessionCount(t))
	})

	t.Run("pending query result leaves the payment untouched", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		p, _ := env.store.Payments.FindByCorrelationID(ctx, nil, cid)
		env.gateway.queryRes = adapter.CallbackResult{Pending: true}

		out, err := env.payments.Reconcile(ctx, p)

		require.NoError(t, err)
		assert.Equal(t, usecase.OutcomePending, out.Kind)
		view, _ := env.payments.PollStatus(ctx, cid)
		assert.Equal(t, model.PaymentStatusPending, view.Status)
	})

	t.Run("abandon fails only payments without correlation id", func(t *testing.T) {
		env := newTestEnv(t)
		cid := env.initiate(t)
		withCID, _ := env.store.Payments.FindByCorrelationID(ctx, nil, cid)

		env.gateway.pushErr = errBoom
		_, _ = env.payments.Initiate(ctx, testPhone, env.plan.ID, env.plan.Price)
		unsent, err := env.store.Payments.ListUnsent(ctx, nil, time.Now().Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
		orphan := unsent[0]

		moved, err := env.payments.Abandon(ctx, orphan.ID)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = env.payments.Abandon(ctx, orphan.ID)
		require.NoError(t, err)
		assert.False(t, moved, "second abandon is a no-op")

		_, err = env.payments.Abandon(ctx, withCID.ID)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})
}

// flakyPayments fails SetCorrelationID a fixed number of times.
type flakyPayments struct {
	repository.PaymentRepository
	failures int
	calls    int
}

func (f *flakyPayments) SetCorrelationID(ctx context.Context, tx repository.Tx, id, cid, mrid string) error {
	f.calls++
	if f.calls <= f.failures {
		return domain.ErrOperationFailed
	}
	return f.PaymentRepository.SetCorrelationID(ctx, tx, id, cid, mrid)
}

func TestPaymentUseCase_InitiateCorrelationRetry(t *testing.T) {
	ctx := context.Background()

	build := func(t *testing.T, failures int) (*testEnv, *flakyPayments, usecase.PaymentUseCase) {
		t.Helper()
		env := newTestEnv(t)
		repo := &flakyPayments{PaymentRepository: env.store.Payments, failures: failures}
		notify := usecase.NewNotificationUseCase(env.sms, nil, env.events, inlineSubmitter{}, true, newTestLogger())
		uc := usecase.NewPaymentUseCase(
			repo, env.store.Plans, env.store.Sessions, env.store,
			env.users, env.sessions, env.gateway, notify,
			usecase.PaymentOptions{ReferencePrefix: "WIFI"}, newTestLogger(),
		)
		return env, repo, uc
	}

	t.Run("a transient write failure is retried and the push stays reconcilable", func(t *testing.T) {
		// --- Arrange ---
		env, repo, uc := build(t, 1)

		// --- Act ---
		res, err := uc.Initiate(ctx, testPhone, env.plan.ID, env.plan.Price)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 2, repo.calls)
		p, err := env.store.Payments.FindByCorrelationID(ctx, nil, res.CorrelationID)
		require.NoError(t, err)
		assert.Equal(t, res.PaymentID, p.ID)
		unsent, err := env.store.Payments.ListUnsent(ctx, nil, time.Now().Add(time.Hour), 0)
		require.NoError(t, err)
		assert.Empty(t, unsent, "nothing left for the janitor to abandon")
	})

	t.Run("gives up after one retry", func(t *testing.T) {
		env, repo, uc := build(t, 2)

		_, err := uc.Initiate(ctx, testPhone, env.plan.ID, env.plan.Price)

		assert.ErrorIs(t, err, domain.ErrOperationFailed)
		assert.Equal(t, 2, repo.calls)
	})
}
