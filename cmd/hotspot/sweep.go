package main

import (
	"fmt"

	"hotspot-billing/internal/infra/sched"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one session sweep and one payment janitor pass, then exit",
		Long: `Expire sessions past their end time, revoke their router access, and
resolve PENDING payments whose callback never arrived. Useful from cron
when serve is not running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.sessions.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", expired)

			synced, err := a.sessions.SyncUsage(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("usage sync skipped")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "synced usage for %d session(s)\n", synced)
			}

			sched.NewPaymentJanitor(a.payments, a.payRepo, a.locker,
				cfg.Scheduler.JanitorInterval, cfg.Scheduler.QueryAfter, cfg.Scheduler.AbandonAfter, cfg.Scheduler.BatchSize, logger,
			).Tick(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "payment janitor pass done")
			return nil
		},
	}
}
