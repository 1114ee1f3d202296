package usecase

import (
	"context"
	"errors"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase resolves hotspot customers by phone.
type UserUseCase interface {
	// ResolveByPhone returns the user for phone, creating a customer if none
	// exists. Concurrent callers for the same phone get the same user.
	ResolveByPhone(ctx context.Context, phone string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, logger *zerolog.Logger) *userUC {
	return &userUC{users: users, log: logging.Component(logger, "UserUC")}
}

func (u *userUC) ResolveByPhone(ctx context.Context, phone string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.ResolveByPhone")()

	canonical, err := model.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	usr, err := u.users.FindByPhone(ctx, repository.NoTX, canonical)
	if err == nil {
		return usr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	nu, err := model.NewCustomer("", canonical)
	if err != nil {
		return nil, err
	}
	err = u.users.Create(ctx, repository.NoTX, nu)
	switch {
	case err == nil:
		u.log.Info().Str("user_id", nu.ID).Msg("customer created")
		return nu, nil
	case errors.Is(err, domain.ErrAlreadyExists):
		// lost the race to a concurrent insert for the same phone
		return u.users.FindByPhone(ctx, repository.NoTX, canonical)
	default:
		return nil, err
	}
}

func (u *userUC) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.users.FindByID(ctx, repository.NoTX, id)
}
