package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Its concrete type is defined by the
// storage backend (pgx.Tx for Postgres, *memory.Tx for the in-memory store).
type Tx interface{}

// NoTX marks a non-transactional call.
var NoTX Tx

// TransactionManager runs fn inside a single transaction. Repositories called
// with the tx passed to fn detect it and lock rows (SELECT ... FOR UPDATE) where
// they need to. A non-nil error from fn rolls everything back.
//
// Repositories MUST also accept NoTX.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
