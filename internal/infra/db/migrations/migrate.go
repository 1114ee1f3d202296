// Package migrations owns the Postgres schema. The SQL files are embedded so
// the binary can migrate without a checkout.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Status is the schema version as recorded by the migrate table.
type Status struct {
	Version uint
	Dirty   bool
	Empty   bool
}

// Runner applies the embedded migrations to one database.
type Runner struct {
	m *migrate.Migrate
}

// New opens the migration source and the target database. dsn may use the
// postgres:// or postgresql:// scheme.
func New(dsn string) (*Runner, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, driverURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return &Runner{m: m}, nil
}

// driverURL rewrites the scheme for the pgx migrate driver.
func driverURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Up applies every pending migration. No pending migration is not an error.
func (r *Runner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	return r.m.Steps(-1)
}

func (r *Runner) Status() (Status, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Empty: true}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Version: v, Dirty: dirty}, nil
}

func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}
