// Package memory is an in-process implementation of the repository ports.
// It backs dev mode and the use-case tests, and enforces the same uniqueness
// and conditional-update rules as the Postgres schema.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*Store)(nil)

// Tx is the handle passed to WithTx callbacks. Holding it means holding the
// store lock.
type Tx struct{ s *Store }

type tables struct {
	users    map[string]model.User
	plans    map[string]model.Plan
	payments map[string]model.Payment
	sessions map[string]model.Session
}

func (t tables) clone() tables {
	c := tables{
		users:    make(map[string]model.User, len(t.users)),
		plans:    make(map[string]model.Plan, len(t.plans)),
		payments: make(map[string]model.Payment, len(t.payments)),
		sessions: make(map[string]model.Session, len(t.sessions)),
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.plans {
		c.plans[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.sessions {
		c.sessions[k] = v
	}
	return c
}

// Store holds all tables behind one mutex. Transactions are serialized and
// rolled back by restoring a snapshot.
type Store struct {
	mu sync.Mutex
	t  tables

	Users    *UserRepo
	Plans    *PlanRepo
	Payments *PaymentRepo
	Sessions *SessionRepo
}

func NewStore() *Store {
	s := &Store{t: tables{}.clone()}
	s.Users = &UserRepo{s: s}
	s.Plans = &PlanRepo{s: s}
	s.Payments = &PaymentRepo{s: s}
	s.Sessions = &SessionRepo{s: s}
	return s
}

// WithTx runs fn with exclusive access to the store. Any error from fn, or a
// panic, restores the state seen at the start.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.t.clone()
	defer func() {
		if r := recover(); r != nil {
			s.t = snapshot
			panic(r)
		}
		if err != nil {
			s.t = snapshot
		}
	}()
	return fn(ctx, &Tx{s: s})
}

// run executes op under the store lock unless tx already holds it.
func (s *Store) run(tx repository.Tx, op func(t *tables) error) error {
	switch v := tx.(type) {
	case nil:
		s.mu.Lock()
		defer s.mu.Unlock()
	case *Tx:
		if v.s != s {
			return domain.ErrInvalidExecContext
		}
	default:
		return domain.ErrInvalidExecContext
	}
	return op(&s.t)
}
