package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.SessionRepository = (*sessionRepo)(nil)

type sessionRepo struct{ pool *pgxpool.Pool }

func NewSessionRepo(pool *pgxpool.Pool) *sessionRepo {
	return &sessionRepo{pool: pool}
}

const sessionCols = `id, user_id, plan_id, payment_id, token, start_time, end_time, status, data_used, router_handle, updated_at`

func scanSession(row scanner) (*model.Session, error) {
	s := &model.Session{}
	var paymentID *string
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &paymentID, &s.Token, &s.StartTime, &s.EndTime,
		&s.Status, &s.DataUsed, &s.RouterHandle, &s.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	if paymentID != nil {
		s.PaymentID = *paymentID
	}
	return s, nil
}

// Create inserts s. The unique indexes on payment_id and on the ACTIVE
// (user_id, plan_id) pair are absorbed with DO NOTHING so the enclosing
// transaction stays usable; either conflict yields ErrActiveSessionExists.
func (r *sessionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Session) error {
	const q = `
INSERT INTO sessions (` + sessionCols + `)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, s.PaymentID, s.Token, s.StartTime, s.EndTime,
		string(s.Status), s.DataUsed, s.RouterHandle, s.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrActiveSessionExists
	}
	return nil
}

func (r *sessionRepo) findOne(ctx context.Context, tx repository.Tx, where string, args ...interface{}) (*model.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions WHERE ` + where
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

func (r *sessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Session, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

func (r *sessionRepo) FindByToken(ctx context.Context, tx repository.Tx, token string) (*model.Session, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, tx, "token=$1", token)
}

func (r *sessionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Session, error) {
	if paymentID == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, tx, "payment_id=$1", paymentID)
}

func (r *sessionRepo) FindActiveByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planID string) (*model.Session, error) {
	return r.findOne(ctx, tx, "user_id=$1 AND plan_id=$2 AND status='ACTIVE'", userID, planID)
}

// LockPair takes a transaction-scoped advisory lock on (userID, planID) so
// that check-then-insert of a session is serialized per pair.
func (r *sessionRepo) LockPair(ctx context.Context, tx repository.Tx, userID, planID string) error {
	if !inTx(tx) {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1);`, pairKey(userID, planID))
	return mapErr(err)
}

func pairKey(userID, planID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(planID))
	return int64(h.Sum64())
}

func (r *sessionRepo) markIfActive(ctx context.Context, tx repository.Tx, id string, to model.SessionStatus) (bool, error) {
	const q = `UPDATE sessions SET status=$2, updated_at=NOW() WHERE id=$1 AND status='ACTIVE';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to))
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *sessionRepo) MarkExpiredIfActive(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.markIfActive(ctx, tx, id, model.SessionStatusExpired)
}

func (r *sessionRepo) MarkTerminatedIfActive(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.markIfActive(ctx, tx, id, model.SessionStatusTerminated)
}

func (r *sessionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Session, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

func (r *sessionRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, tx, `SELECT `+sessionCols+` FROM sessions
 WHERE status='ACTIVE' AND end_time < $1 ORDER BY start_time ASC LIMIT $2;`, now, limit)
}

// List returns sessions with the given status, or all of them when status is empty.
func (r *sessionRepo) List(ctx context.Context, tx repository.Tx, status model.SessionStatus, limit int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, tx, `SELECT `+sessionCols+` FROM sessions
 WHERE ($1 = '' OR status = $1) ORDER BY start_time ASC LIMIT $2;`, string(status), limit)
}

func (r *sessionRepo) update(ctx context.Context, tx repository.Tx, q string, args ...interface{}) error {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) UpdateRouterHandle(ctx context.Context, tx repository.Tx, id, handle string) error {
	return r.update(ctx, tx, `UPDATE sessions SET router_handle=$2, updated_at=NOW() WHERE id=$1;`, id, handle)
}

// UpdateDataUsed never lowers the counter; router counters reset on reconnect.
func (r *sessionRepo) UpdateDataUsed(ctx context.Context, tx repository.Tx, id string, bytes int64) error {
	return r.update(ctx, tx, `UPDATE sessions SET data_used=GREATEST(data_used, $2), updated_at=NOW() WHERE id=$1;`, id, bytes)
}

func (r *sessionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SessionStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM sessions GROUP BY status;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := map[model.SessionStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SessionStatus(status)] = n
	}
	return out, mapErr(rows.Err())
}
