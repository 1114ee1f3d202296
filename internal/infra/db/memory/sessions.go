package memory

import (
	"context"
	"sort"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.SessionRepository = (*SessionRepo)(nil)

type SessionRepo struct{ s *Store }

// Create mirrors the Postgres constraints: unique token, unique payment_id and
// one ACTIVE row per (user_id, plan_id).
func (r *SessionRepo) Create(_ context.Context, tx repository.Tx, s *model.Session) error {
	return r.s.run(tx, func(t *tables) error {
		if _, ok := t.sessions[s.ID]; ok {
			return domain.ErrAlreadyExists
		}
		for _, e := range t.sessions {
			if e.Token == s.Token {
				return domain.ErrAlreadyExists
			}
			if s.PaymentID != "" && e.PaymentID == s.PaymentID {
				return domain.ErrActiveSessionExists
			}
			if s.Status == model.SessionStatusActive && e.Status == model.SessionStatusActive &&
				e.UserID == s.UserID && e.PlanID == s.PlanID {
				return domain.ErrActiveSessionExists
			}
		}
		t.sessions[s.ID] = *s
		return nil
	})
}

func (r *SessionRepo) find(tx repository.Tx, match func(model.Session) bool) (*model.Session, error) {
	var out *model.Session
	err := r.s.run(tx, func(t *tables) error {
		for _, s := range t.sessions {
			if match(s) {
				c := s
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *SessionRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Session, error) {
	return r.find(tx, func(s model.Session) bool { return s.ID == id })
}

func (r *SessionRepo) FindByToken(_ context.Context, tx repository.Tx, token string) (*model.Session, error) {
	return r.find(tx, func(s model.Session) bool { return token != "" && s.Token == token })
}

func (r *SessionRepo) FindByPaymentID(_ context.Context, tx repository.Tx, paymentID string) (*model.Session, error) {
	return r.find(tx, func(s model.Session) bool { return paymentID != "" && s.PaymentID == paymentID })
}

func (r *SessionRepo) FindActiveByUserAndPlan(_ context.Context, tx repository.Tx, userID, planID string) (*model.Session, error) {
	return r.find(tx, func(s model.Session) bool {
		return s.Status == model.SessionStatusActive && s.UserID == userID && s.PlanID == planID
	})
}

// LockPair is satisfied by the store lock every transaction already holds.
func (r *SessionRepo) LockPair(_ context.Context, tx repository.Tx, _, _ string) error {
	return r.s.run(tx, func(*tables) error { return nil })
}

func (r *SessionRepo) markIfActive(tx repository.Tx, id string, to model.SessionStatus) (bool, error) {
	var moved bool
	err := r.s.run(tx, func(t *tables) error {
		s, ok := t.sessions[id]
		if !ok || s.Status != model.SessionStatusActive {
			return nil
		}
		s.Status = to
		s.UpdatedAt = time.Now()
		t.sessions[id] = s
		moved = true
		return nil
	})
	return moved, err
}

func (r *SessionRepo) MarkExpiredIfActive(_ context.Context, tx repository.Tx, id string) (bool, error) {
	return r.markIfActive(tx, id, model.SessionStatusExpired)
}

func (r *SessionRepo) MarkTerminatedIfActive(_ context.Context, tx repository.Tx, id string) (bool, error) {
	return r.markIfActive(tx, id, model.SessionStatusTerminated)
}

func (r *SessionRepo) list(tx repository.Tx, limit int, match func(model.Session) bool) ([]*model.Session, error) {
	var out []*model.Session
	err := r.s.run(tx, func(t *tables) error {
		for _, s := range t.sessions {
			if match(s) {
				c := s
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *SessionRepo) ListExpired(_ context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Session, error) {
	return r.list(tx, limit, func(s model.Session) bool {
		return s.Status == model.SessionStatusActive && s.EndTime.Before(now)
	})
}

func (r *SessionRepo) List(_ context.Context, tx repository.Tx, status model.SessionStatus, limit int) ([]*model.Session, error) {
	return r.list(tx, limit, func(s model.Session) bool { return status == "" || s.Status == status })
}

func (r *SessionRepo) update(tx repository.Tx, id string, fn func(*model.Session)) error {
	return r.s.run(tx, func(t *tables) error {
		s, ok := t.sessions[id]
		if !ok {
			return domain.ErrNotFound
		}
		fn(&s)
		s.UpdatedAt = time.Now()
		t.sessions[id] = s
		return nil
	})
}

func (r *SessionRepo) UpdateRouterHandle(_ context.Context, tx repository.Tx, id, handle string) error {
	return r.update(tx, id, func(s *model.Session) { s.RouterHandle = &handle })
}

func (r *SessionRepo) UpdateDataUsed(_ context.Context, tx repository.Tx, id string, bytes int64) error {
	return r.update(tx, id, func(s *model.Session) {
		if bytes > s.DataUsed {
			s.DataUsed = bytes
		}
	})
}

func (r *SessionRepo) CountByStatus(_ context.Context, tx repository.Tx) (map[model.SessionStatus]int, error) {
	out := map[model.SessionStatus]int{}
	err := r.s.run(tx, func(t *tables) error {
		for _, s := range t.sessions {
			out[s.Status]++
		}
		return nil
	})
	return out, err
}
