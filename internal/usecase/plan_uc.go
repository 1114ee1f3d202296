package usecase

import (
	"context"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

// PlanUseCase exposes the read side of the plan catalogue.
type PlanUseCase struct {
	repo repository.PlanRepository
}

func NewPlanUseCase(repo repository.PlanRepository) *PlanUseCase {
	return &PlanUseCase{repo: repo}
}

// Create saves or updates a plan.
func (uc *PlanUseCase) Create(ctx context.Context, plan *model.Plan) error {
	return uc.repo.Save(ctx, repository.NoTX, plan)
}

// Purchasable returns the plan if it can be bought right now.
func (uc *PlanUseCase) Purchasable(ctx context.Context, id string) (*model.Plan, error) {
	p, err := uc.repo.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, domain.ErrPlanInactive
	}
	return p, nil
}

// ListActive returns plans shown on the captive portal, cheapest first.
func (uc *PlanUseCase) ListActive(ctx context.Context) ([]*model.Plan, error) {
	return uc.repo.ListActive(ctx, repository.NoTX)
}

// Get returns a plan whether or not it is still on sale.
func (uc *PlanUseCase) Get(ctx context.Context, id string) (*model.Plan, error) {
	return uc.repo.FindByID(ctx, repository.NoTX, id)
}
