package memory

import (
	"context"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct{ s *Store }

func (r *UserRepo) Create(_ context.Context, tx repository.Tx, u *model.User) error {
	return r.s.run(tx, func(t *tables) error {
		if _, ok := t.users[u.ID]; ok {
			return domain.ErrAlreadyExists
		}
		for _, existing := range t.users {
			if existing.Phone == u.Phone {
				return domain.ErrAlreadyExists
			}
		}
		t.users[u.ID] = *u
		return nil
	})
}

func (r *UserRepo) FindByPhone(_ context.Context, tx repository.Tx, phone string) (*model.User, error) {
	var out *model.User
	err := r.s.run(tx, func(t *tables) error {
		for _, u := range t.users {
			if u.Phone == phone {
				c := u
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *UserRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.User, error) {
	var out *model.User
	err := r.s.run(tx, func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}
