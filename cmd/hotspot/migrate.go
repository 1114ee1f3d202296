package main

import (
	"errors"
	"fmt"

	"hotspot-billing/internal/infra/db/migrations"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(
		migrateStep("up", "Apply all pending migrations", (*migrations.Runner).Up),
		migrateStep("down", "Roll back the most recent migration", (*migrations.Runner).Down),
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(func(r *migrations.Runner) error {
					st, err := r.Status()
					if err != nil {
						return err
					}
					switch {
					case st.Empty:
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					case st.Dirty:
						fmt.Fprintf(cmd.OutOrStdout(), "version %d (DIRTY: fix the failed migration and force the version)\n", st.Version)
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", st.Version)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func migrateStep(use, short string, step func(*migrations.Runner) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(func(r *migrations.Runner) error {
				if err := step(r); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", use)
				return nil
			})
		},
	}
}

func withRunner(fn func(r *migrations.Runner) error) (err error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url (or DATABASE_URL) is required")
	}
	r, err := migrations.New(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return fn(r)
}
