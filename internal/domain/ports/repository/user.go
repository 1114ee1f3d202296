package repository

import (
	"context"

	"hotspot-billing/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	// Create inserts u; ErrAlreadyExists when the phone is taken.
	Create(ctx context.Context, tx Tx, u *model.User) error
	FindByPhone(ctx context.Context, tx Tx, phone string) (*model.User, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
}
