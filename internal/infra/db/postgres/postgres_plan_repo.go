package postgres

import (
	"context"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

const planCols = `id, name, description, price, duration_hours, data_limit, speed_limit, is_active, created_at, updated_at`

func scanPlan(row scanner) (*model.Plan, error) {
	var p model.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.DurationHours, &p.DataLimit, &p.SpeedLimit, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &p, nil
}

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	const sql = `
INSERT INTO plans (` + planCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE
  SET name           = EXCLUDED.name,
      description    = EXCLUDED.description,
      price          = EXCLUDED.price,
      duration_hours = EXCLUDED.duration_hours,
      data_limit     = EXCLUDED.data_limit,
      speed_limit    = EXCLUDED.speed_limit,
      is_active      = EXCLUDED.is_active,
      updated_at     = EXCLUDED.updated_at;
`
	_, err := execSQL(ctx, r.pool, tx, sql,
		plan.ID, plan.Name, plan.Description, plan.Price, plan.DurationHours,
		plan.DataLimit, plan.SpeedLimit, plan.Active, plan.CreatedAt, plan.UpdatedAt,
	)
	return mapErr(err)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planCols+` FROM plans WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

// ListActive returns purchasable plans, cheapest first.
func (r *PostgresPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+planCols+` FROM plans WHERE is_active ORDER BY price ASC, name ASC;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}
