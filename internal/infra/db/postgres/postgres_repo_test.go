//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

type fixture struct {
	users    *PostgresUserRepo
	plans    *PostgresPlanRepo
	payments *paymentRepo
	sessions *sessionRepo
	tm       *TxManager
	user     *model.User
	plan     *model.Plan
}

func setup(t *testing.T) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	cleanup(t)
	ctx := context.Background()
	f := &fixture{
		users:    NewPostgresUserRepo(testPool),
		plans:    NewPostgresPlanRepo(testPool),
		payments: NewPaymentRepo(testPool),
		sessions: NewSessionRepo(testPool),
		tm:       NewTxManager(testPool),
	}
	var err error
	f.user, err = model.NewCustomer("", "254712345678")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, repository.NoTX, f.user))
	f.plan, err = model.NewPlan(uuid.NewString(), "Daily", 5000, 24, "1GB", "2M/5M")
	require.NoError(t, err)
	require.NoError(t, f.plans.Save(ctx, repository.NoTX, f.plan))
	return f
}

func (f *fixture) newPayment(t *testing.T) *model.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &model.Payment{
		ID: uuid.NewString(), UserID: f.user.ID, PlanID: f.plan.ID, Amount: f.plan.Price,
		Status: model.PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.payments.Save(context.Background(), repository.NoTX, p))
	return p
}

func (f *fixture) newSession(t *testing.T, paymentID string) *model.Session {
	t.Helper()
	s, err := model.NewSession(uuid.NewString(), f.user.ID, paymentID, uuid.NewString(), f.plan, time.Now().UTC())
	require.NoError(t, err)
	return s
}

func TestUserRepo_Integration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("should find by phone and id", func(t *testing.T) {
		byPhone, err := f.users.FindByPhone(ctx, repository.NoTX, "254712345678")
		require.NoError(t, err)
		byID, err := f.users.FindByID(ctx, repository.NoTX, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, byPhone.ID, byID.ID)
		assert.Equal(t, model.RoleCustomer, byID.Role)
	})

	t.Run("should reject a duplicate phone", func(t *testing.T) {
		dup, _ := model.NewCustomer("", "254712345678")
		err := f.users.Create(ctx, repository.NoTX, dup)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("should map a missing row to ErrNotFound", func(t *testing.T) {
		_, err := f.users.FindByPhone(ctx, repository.NoTX, "254700000000")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPlanRepo_Integration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	hidden, err := model.NewPlan(uuid.NewString(), "Retired", 100, 1, "", "")
	require.NoError(t, err)
	hidden.Active = false
	require.NoError(t, f.plans.Save(ctx, repository.NoTX, hidden))

	f.plan.Name = "Daily v2"
	require.NoError(t, f.plans.Save(ctx, repository.NoTX, f.plan))

	got, err := f.plans.FindByID(ctx, repository.NoTX, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "Daily v2", got.Name)
	assert.Equal(t, "1GB", got.DataLimit)

	active, err := f.plans.ListActive(ctx, repository.NoTX)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, f.plan.ID, active[0].ID)
}

func TestPaymentRepo_Integration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("correlation id is unique", func(t *testing.T) {
		a, b := f.newPayment(t), f.newPayment(t)
		require.NoError(t, f.payments.SetCorrelationID(ctx, repository.NoTX, a.ID, "ws_CO_1", "mr-1"))
		err := f.payments.SetCorrelationID(ctx, repository.NoTX, b.ID, "ws_CO_1", "mr-2")
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		got, err := f.payments.FindByCorrelationID(ctx, repository.NoTX, "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "mr-1", got.MerchantRequestID)
	})

	t.Run("only the first terminal update wins", func(t *testing.T) {
		p := f.newPayment(t)
		var wg sync.WaitGroup
		wins := make(chan bool, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				moved, err := f.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusCompleted, "RCPT1", "ok")
				assert.NoError(t, err)
				wins <- moved
			}()
		}
		wg.Wait()
		close(wins)
		n := 0
		for w := range wins {
			if w {
				n++
			}
		}
		assert.Equal(t, 1, n)

		got, err := f.payments.FindByID(ctx, repository.NoTX, p.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, got.Status)
		assert.Equal(t, "RCPT1", got.ReceiptNumber)
	})

	t.Run("splits pending payments into unsent and awaiting callback", func(t *testing.T) {
		f = setup(t)
		unsent := f.newPayment(t)
		sent := f.newPayment(t)
		require.NoError(t, f.payments.SetCorrelationID(ctx, repository.NoTX, sent.ID, "ws_CO_sent", "mr-1"))
		cutoff := time.Now().Add(time.Minute)

		list, err := f.payments.ListUnsent(ctx, repository.NoTX, cutoff, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, unsent.ID, list[0].ID)

		list, err = f.payments.ListAwaitingCallback(ctx, repository.NoTX, cutoff, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, sent.ID, list[0].ID)
		assert.Nil(t, list[0].LastQueriedAt)

		counts, err := f.payments.CountByStatus(ctx, repository.NoTX)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[model.PaymentStatusPending])
	})

	t.Run("queried payments rotate behind unqueried ones", func(t *testing.T) {
		f = setup(t)
		older := f.newPayment(t)
		newer := f.newPayment(t)
		require.NoError(t, f.payments.SetCorrelationID(ctx, repository.NoTX, older.ID, "ws_CO_old", "mr-1"))
		require.NoError(t, f.payments.SetCorrelationID(ctx, repository.NoTX, newer.ID, "ws_CO_new", "mr-2"))
		require.NoError(t, f.payments.MarkQueried(ctx, repository.NoTX, older.ID, time.Now().UTC()))

		list, err := f.payments.ListAwaitingCallback(ctx, repository.NoTX, time.Now().Add(time.Minute), 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, newer.ID, list[0].ID)

		assert.ErrorIs(t, f.payments.MarkQueried(ctx, repository.NoTX, uuid.NewString(), time.Now()), domain.ErrNotFound)
	})

	t.Run("sums completed revenue since a point in time", func(t *testing.T) {
		f = setup(t)
		paid := f.newPayment(t)
		f.newPayment(t)
		moved, err := f.payments.UpdateStatusIfPending(ctx, repository.NoTX, paid.ID, model.PaymentStatusCompleted, "RCPT9", "ok")
		require.NoError(t, err)
		require.True(t, moved)

		sum, err := f.payments.SumCompletedSince(ctx, repository.NoTX, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, f.plan.Price, sum)

		sum, err = f.payments.SumCompletedSince(ctx, repository.NoTX, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, sum)
	})
}

func TestSessionRepo_Integration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("second ACTIVE session for the pair is rejected without aborting the tx", func(t *testing.T) {
		first := f.newSession(t, "")
		require.NoError(t, f.sessions.Create(ctx, repository.NoTX, first))

		err := f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			require.NoError(t, f.sessions.LockPair(ctx, tx, f.user.ID, f.plan.ID))
			err := f.sessions.Create(ctx, tx, f.newSession(t, ""))
			assert.ErrorIs(t, err, domain.ErrActiveSessionExists)
			// the transaction is still usable
			_, err = f.sessions.FindActiveByUserAndPlan(ctx, tx, f.user.ID, f.plan.ID)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("expiry happens once and frees the pair", func(t *testing.T) {
		cur, err := f.sessions.FindActiveByUserAndPlan(ctx, repository.NoTX, f.user.ID, f.plan.ID)
		require.NoError(t, err)

		moved, err := f.sessions.MarkExpiredIfActive(ctx, repository.NoTX, cur.ID)
		require.NoError(t, err)
		assert.True(t, moved)
		moved, err = f.sessions.MarkTerminatedIfActive(ctx, repository.NoTX, cur.ID)
		require.NoError(t, err)
		assert.False(t, moved)

		require.NoError(t, f.sessions.Create(ctx, repository.NoTX, f.newSession(t, "")))
	})

	t.Run("data usage never decreases", func(t *testing.T) {
		cur, err := f.sessions.FindActiveByUserAndPlan(ctx, repository.NoTX, f.user.ID, f.plan.ID)
		require.NoError(t, err)
		require.NoError(t, f.sessions.UpdateDataUsed(ctx, repository.NoTX, cur.ID, 500))
		require.NoError(t, f.sessions.UpdateDataUsed(ctx, repository.NoTX, cur.ID, 100))
		got, err := f.sessions.FindByID(ctx, repository.NoTX, cur.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.DataUsed)
	})

	t.Run("lists sessions past their end", func(t *testing.T) {
		list, err := f.sessions.ListExpired(ctx, repository.NoTX, time.Now().Add(48*time.Hour), 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		all, err := f.sessions.List(ctx, repository.NoTX, "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("payment id is unique across sessions", func(t *testing.T) {
		p := f.newPayment(t)
		other, err := model.NewPlan(uuid.NewString(), "Weekly", 20000, 168, "", "")
		require.NoError(t, err)
		require.NoError(t, f.plans.Save(ctx, repository.NoTX, other))

		s1 := f.newSession(t, p.ID)
		s1.PlanID = other.ID
		require.NoError(t, f.sessions.Create(ctx, repository.NoTX, s1))
		require.NoError(t, f.payments.LinkSession(ctx, repository.NoTX, p.ID, s1.ID))

		_, _ = f.sessions.MarkTerminatedIfActive(ctx, repository.NoTX, s1.ID)
		s2 := f.newSession(t, p.ID)
		s2.PlanID = other.ID
		err = f.sessions.Create(ctx, repository.NoTX, s2)
		assert.True(t, errors.Is(err, domain.ErrActiveSessionExists))

		got, err := f.sessions.FindByPaymentID(ctx, repository.NoTX, p.ID)
		require.NoError(t, err)
		assert.Equal(t, s1.ID, got.ID)
	})
}
