package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userCols = `id, phone, email, first_name, last_name, role, is_active, created_at, updated_at`

// Create inserts u. A taken phone number yields domain.ErrAlreadyExists.
func (r *PostgresUserRepo) Create(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Phone, u.Email, u.FirstName, u.LastName, string(u.Role), u.Active, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userCols+` FROM users WHERE `+where+`;`, arg)
	if err != nil {
		return nil, err
	}
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Phone, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return u, nil
}

func (r *PostgresUserRepo) FindByPhone(ctx context.Context, tx repository.Tx, phone string) (*model.User, error) {
	return r.findOne(ctx, tx, "phone=$1", phone)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}
