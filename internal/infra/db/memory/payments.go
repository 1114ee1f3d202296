package memory

import (
	"context"
	"sort"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*PaymentRepo)(nil)

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) Save(_ context.Context, tx repository.Tx, p *model.Payment) error {
	return r.s.run(tx, func(t *tables) error {
		if p.CorrelationID != "" {
			for id, existing := range t.payments {
				if id != p.ID && existing.CorrelationID == p.CorrelationID {
					return domain.ErrAlreadyExists
				}
			}
		}
		t.payments[p.ID] = *p
		return nil
	})
}

func (r *PaymentRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	var out *model.Payment
	err := r.s.run(tx, func(t *tables) error {
		p, ok := t.payments[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *PaymentRepo) FindByCorrelationID(_ context.Context, tx repository.Tx, correlationID string) (*model.Payment, error) {
	var out *model.Payment
	err := r.s.run(tx, func(t *tables) error {
		if correlationID == "" {
			return domain.ErrNotFound
		}
		for _, p := range t.payments {
			if p.CorrelationID == correlationID {
				c := p
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *PaymentRepo) SetCorrelationID(_ context.Context, tx repository.Tx, id, correlationID, merchantRequestID string) error {
	return r.s.run(tx, func(t *tables) error {
		p, ok := t.payments[id]
		if !ok {
			return domain.ErrNotFound
		}
		for other, existing := range t.payments {
			if other != id && existing.CorrelationID == correlationID {
				return domain.ErrAlreadyExists
			}
		}
		p.CorrelationID = correlationID
		p.MerchantRequestID = merchantRequestID
		p.UpdatedAt = time.Now()
		t.payments[id] = p
		return nil
	})
}

func (r *PaymentRepo) UpdateStatusIfPending(_ context.Context, tx repository.Tx, id string, status model.PaymentStatus, receipt, resultDesc string) (bool, error) {
	var moved bool
	err := r.s.run(tx, func(t *tables) error {
		p, ok := t.payments[id]
		if !ok || !p.Status.CanTransition(status) {
			return nil
		}
		p.Status = status
		if receipt != "" {
			p.ReceiptNumber = receipt
		}
		if resultDesc != "" {
			p.ResultDesc = resultDesc
		}
		p.UpdatedAt = time.Now()
		t.payments[id] = p
		moved = true
		return nil
	})
	return moved, err
}

func (r *PaymentRepo) LinkSession(_ context.Context, tx repository.Tx, id, sessionID string) error {
	return r.s.run(tx, func(t *tables) error {
		p, ok := t.payments[id]
		if !ok {
			return domain.ErrNotFound
		}
		p.SessionID = &sessionID
		p.UpdatedAt = time.Now()
		t.payments[id] = p
		return nil
	})
}

func (r *PaymentRepo) ListUnsent(_ context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	out, err := r.pending(tx, cutoff, func(p model.Payment) bool { return p.CorrelationID == "" })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), err
}

func (r *PaymentRepo) ListAwaitingCallback(_ context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	out, err := r.pending(tx, cutoff, func(p model.Payment) bool { return p.CorrelationID != "" })
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastQueriedAt, out[j].LastQueriedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), err
}

func (r *PaymentRepo) pending(tx repository.Tx, cutoff time.Time, keep func(model.Payment) bool) ([]*model.Payment, error) {
	var out []*model.Payment
	err := r.s.run(tx, func(t *tables) error {
		for _, p := range t.payments {
			if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(cutoff) && keep(p) {
				c := p
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

func truncate(ps []*model.Payment, limit int) []*model.Payment {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}

func (r *PaymentRepo) MarkQueried(_ context.Context, tx repository.Tx, id string, at time.Time) error {
	return r.s.run(tx, func(t *tables) error {
		p, ok := t.payments[id]
		if !ok {
			return domain.ErrNotFound
		}
		p.LastQueriedAt = &at
		t.payments[id] = p
		return nil
	})
}

func (r *PaymentRepo) CountByStatus(_ context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	out := map[model.PaymentStatus]int{}
	err := r.s.run(tx, func(t *tables) error {
		for _, p := range t.payments {
			out[p.Status]++
		}
		return nil
	})
	return out, err
}

func (r *PaymentRepo) SumCompletedSince(_ context.Context, tx repository.Tx, since time.Time) (int64, error) {
	var sum int64
	err := r.s.run(tx, func(t *tables) error {
		for _, p := range t.payments {
			if p.Status == model.PaymentStatusCompleted && !p.CreatedAt.Before(since) {
				sum += p.Amount
			}
		}
		return nil
	})
	return sum, err
}
