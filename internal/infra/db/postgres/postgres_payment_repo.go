package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, user_id, plan_id, amount, COALESCE(correlation_id, ''), merchant_request_id,
  receipt_number, result_desc, status, session_id, last_queried_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row scanner) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Amount, &p.CorrelationID, &p.MerchantRequestID,
		&p.ReceiptNumber, &p.ResultDesc, &p.Status, &p.SessionID, &p.LastQueriedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, plan_id, amount, correlation_id, merchant_request_id, receipt_number, result_desc, status, session_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12
) ON CONFLICT (id) DO UPDATE SET
  correlation_id=NULLIF($5,''), merchant_request_id=$6, receipt_number=$7, result_desc=$8, status=$9, session_id=$10, updated_at=$12;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.PlanID, p.Amount, p.CorrelationID, p.MerchantRequestID,
		p.ReceiptNumber, p.ResultDesc, string(p.Status), p.SessionID, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE ` + where
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

// FindByCorrelationID locks the row when called inside a transaction, which
// serializes concurrent deliveries of the same callback.
func (r *paymentRepo) FindByCorrelationID(ctx context.Context, tx repository.Tx, correlationID string) (*model.Payment, error) {
	if correlationID == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, tx, "correlation_id=$1", correlationID)
}

func (r *paymentRepo) SetCorrelationID(ctx context.Context, tx repository.Tx, id, correlationID, merchantRequestID string) error {
	const q = `UPDATE payments SET correlation_id=$2, merchant_request_id=$3, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, correlationID, merchantRequestID)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusIfPending moves a PENDING payment to status. It reports false
// when another writer already finalized the row.
func (r *paymentRepo) UpdateStatusIfPending(
	ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, receipt, resultDesc string,
) (bool, error) {
	const q = `
    UPDATE payments
       SET status = $2,
           receipt_number = $3,
           result_desc = $4,
           updated_at = NOW()
     WHERE id = $1
       AND status = 'PENDING'`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status), receipt, resultDesc)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) LinkSession(ctx context.Context, tx repository.Tx, id, sessionID string) error {
	const q = `UPDATE payments SET session_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, sessionID)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListUnsent(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return r.list(ctx, tx, `SELECT `+paymentCols+` FROM payments
 WHERE status='PENDING' AND correlation_id IS NULL AND created_at < $1
 ORDER BY created_at ASC LIMIT $2;`, cutoff, limit)
}

func (r *paymentRepo) ListAwaitingCallback(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return r.list(ctx, tx, `SELECT `+paymentCols+` FROM payments
 WHERE status='PENDING' AND correlation_id IS NOT NULL AND created_at < $1
 ORDER BY last_queried_at ASC NULLS FIRST, created_at ASC LIMIT $2;`, cutoff, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, cutoff time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *paymentRepo) MarkQueried(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE payments SET last_queried_at=$2 WHERE id=$1;`, id, at)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM payments GROUP BY status;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := map[model.PaymentStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.PaymentStatus(status)] = n
	}
	return out, mapErr(rows.Err())
}

func (r *paymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status='COMPLETED' AND created_at >= $1;`, since)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, scanErr(err)
	}
	return sum, nil
}
