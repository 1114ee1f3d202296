package memory

import (
	"context"
	"sort"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*PlanRepo)(nil)

type PlanRepo struct{ s *Store }

func (r *PlanRepo) Save(_ context.Context, tx repository.Tx, p *model.Plan) error {
	return r.s.run(tx, func(t *tables) error {
		t.plans[p.ID] = *p
		return nil
	})
}

func (r *PlanRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	var out *model.Plan
	err := r.s.run(tx, func(t *tables) error {
		p, ok := t.plans[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *PlanRepo) ListActive(_ context.Context, tx repository.Tx) ([]*model.Plan, error) {
	var out []*model.Plan
	err := r.s.run(tx, func(t *tables) error {
		for _, p := range t.plans {
			if p.Active {
				c := p
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}
