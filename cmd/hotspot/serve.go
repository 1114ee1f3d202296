package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hotspot-billing/internal/infra/api"
	"hotspot-billing/internal/infra/metrics"
	"hotspot-billing/internal/infra/sched"
	"hotspot-billing/internal/infra/security"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the session sweeper and the payment janitor",
		Long: `Run the billing service.

Examples:
  hotspot serve --config config.yaml
  hotspot serve --dev`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	secret := cfg.Security.JWTSecret
	if secret == "" {
		// dev only; Validate requires a secret otherwise
		if secret, err = security.NewToken(); err != nil {
			return err
		}
		logger.Warn().Msg("security.jwt_secret not set: admin tokens are valid for this process only")
	}
	auth := api.NewAuthManager(secret, cfg.Security.TokenTTL)

	srv := api.NewServer(a.payments, a.sessions, a.plans, a.stats, auth, a.limiter, api.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		InitiateLimit:  cfg.Payment.InitiateLimit,
		InitiateWindow: cfg.Payment.InitiateWindow,
	}, logger)
	for name, p := range a.checks {
		srv.AddCheck(name, p)
	}

	// ---- Background jobs ----
	sweeper := sched.NewSessionSweeper(cfg.Scheduler.SweepInterval, a.sessions, a.locker, logger)
	janitor := sched.NewPaymentJanitor(a.payments, a.payRepo, a.locker,
		cfg.Scheduler.JanitorInterval, cfg.Scheduler.QueryAfter, cfg.Scheduler.AbandonAfter, cfg.Scheduler.BatchSize, logger)
	jobs := []func(context.Context){
		func(ctx context.Context) { _ = sweeper.Run(ctx) },
		func(ctx context.Context) { _ = janitor.Run(ctx) },
	}
	if a.pgPool != nil {
		jobs = append(jobs, func(ctx context.Context) { a.reportPoolStats(ctx, 15*time.Second) })
	}
	// runs before a.Close so no job touches a closed pool
	defer startJobs(ctx, jobs...)()

	// ---- HTTP ----
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return nil
}

// startJobs runs each job on its own goroutine. The returned func cancels
// them and blocks until all have returned.
func startJobs(ctx context.Context, jobs ...func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job(ctx)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func (a *app) reportPoolStats(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		metrics.ObservePool(a.pgPool.Stat())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
