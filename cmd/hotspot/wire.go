package main

import (
	"context"
	"fmt"
	"slices"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/adapters/events"
	"hotspot-billing/internal/infra/adapters/notify"
	payAdapters "hotspot-billing/internal/infra/adapters/payment"
	"hotspot-billing/internal/infra/adapters/router"
	"hotspot-billing/internal/infra/api"
	"hotspot-billing/internal/infra/db/memory"
	pg "hotspot-billing/internal/infra/db/postgres"
	red "hotspot-billing/internal/infra/redis"
	"hotspot-billing/internal/infra/worker"
	"hotspot-billing/internal/usecase"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// app is the wired object graph shared by serve and the one-shot commands.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	planRepo repository.PlanRepository
	payRepo  repository.PaymentRepository

	plans    *usecase.PlanUseCase
	payments usecase.PaymentUseCase
	sessions usecase.SessionUseCase
	stats    usecase.StatsUseCase

	locker  red.Locker  // nil without Redis
	limiter api.Limiter // nil without Redis
	checks  map[string]api.Pinger
	pgPool  *pgxpool.Pool

	closers []func()
}

type storage struct {
	users    repository.UserRepository
	plans    repository.PlanRepository
	payments repository.PaymentRepository
	sessions repository.SessionRepository
	tm       repository.TransactionManager
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, checks: map[string]api.Pinger{}}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.onClose(func() { _ = redisClient.Close() })
		a.locker = red.NewLocker(redisClient)
		a.limiter = red.NewRateLimiter(redisClient)
		a.checks["redis"] = redisClient
	} else {
		logger.Warn().Msg("redis not configured: no job locks, rate limits or plan cache")
	}

	// ---- Storage ----
	st, err := a.buildStorage(ctx, redisClient)
	if err != nil {
		return nil, err
	}
	a.planRepo = st.plans
	a.payRepo = st.payments

	// ---- Adapters ----
	gateway, sim, err := buildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	if sim != nil {
		a.onClose(sim.Stop)
	}
	rt := buildRouter(cfg, logger)
	customer, ops := buildNotifiers(cfg, logger)
	publisher := a.buildPublisher(cfg, logger)

	pool := worker.NewPool(cfg.Notify.Workers, cfg.Notify.Queue, logger)
	pool.Start(ctx)
	a.onClose(pool.Stop)

	// ---- Use cases ----
	notifyUC := usecase.NewNotificationUseCase(customer, ops, publisher, pool, cfg.Runtime.Dev, logger)
	userUC := usecase.NewUserUseCase(st.users, logger)
	a.plans = usecase.NewPlanUseCase(st.plans)
	a.sessions = usecase.NewSessionUseCase(st.sessions, st.plans, st.tm, rt, notifyUC, cfg.Scheduler.BatchSize, logger)
	payUC := usecase.NewPaymentUseCase(st.payments, st.plans, st.sessions, st.tm, userUC, a.sessions, gateway, notifyUC,
		usecase.PaymentOptions{ReferencePrefix: cfg.Payment.ReferencePrefix}, logger)
	a.payments = payUC
	a.stats = usecase.NewStatsUseCase(st.payments, st.sessions, logger)

	if sim != nil {
		sim.SetSink(func(ctx context.Context, raw []byte) { payUC.HandleCallback(ctx, raw) })
	}
	built = true
	return a, nil
}

func (a *app) buildStorage(ctx context.Context, redisClient *red.Client) (*storage, error) {
	if a.cfg.Database.URL == "" {
		a.log.Warn().Msg("no database configured: using the in-memory store, data is lost on exit")
		store := memory.NewStore()
		for _, p := range defaultPlans() {
			if err := store.Plans.Save(ctx, repository.NoTX, p); err != nil {
				return nil, fmt.Errorf("seed memory plans: %w", err)
			}
		}
		return &storage{
			users:    store.Users,
			plans:    store.Plans,
			payments: store.Payments,
			sessions: store.Sessions,
			tm:       store,
		}, nil
	}

	pool, err := pg.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.onClose(pool.Close)
	a.pgPool = pool
	a.checks["postgres"] = pool

	var plans repository.PlanRepository = pg.NewPostgresPlanRepo(pool)
	if redisClient != nil {
		plans = pg.NewPlanRepoCacheDecorator(plans, redisClient, a.cfg.Redis.TTL)
	}
	return &storage{
		users:    pg.NewPostgresUserRepo(pool),
		plans:    plans,
		payments: pg.NewPaymentRepo(pool),
		sessions: pg.NewSessionRepo(pool),
		tm:       pg.NewTxManager(pool),
	}, nil
}

func buildGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentGateway, *payAdapters.SimulatorGateway, error) {
	switch cfg.Payment.Provider {
	case "simulator":
		sim := payAdapters.NewSimulatorGateway(cfg.Payment.Simulator.Delay, cfg.Payment.Simulator.FailPhones, logger)
		logger.Warn().Dur("delay", cfg.Payment.Simulator.Delay).Msg("payments are SIMULATED")
		return sim, sim, nil
	default:
		gw, err := payAdapters.NewMpesaGateway(cfg.Payment.Mpesa, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mpesa gateway: %w", err)
		}
		logger.Info().Str("environment", cfg.Payment.Mpesa.Environment).Msg("M-Pesa gateway ready")
		return gw, nil, nil
	}
}

func buildRouter(cfg *config.Config, logger *zerolog.Logger) adapter.RouterGateway {
	if cfg.Router.Driver == "noop" {
		logger.Warn().Msg("router driver is noop: access is not enforced on any device")
		return router.NewNoopRouter()
	}
	logger.Info().Str("host", cfg.Router.Host).Int("port", cfg.Router.Port).Msg("RouterOS gateway ready")
	return router.NewRouterOSGateway(cfg.Router, logger)
}

// buildNotifiers falls back to log-only notifiers for channels without
// credentials. Ops messages are always logged as well.
func buildNotifiers(cfg *config.Config, logger *zerolog.Logger) (customer, ops adapter.Notifier) {
	customer = notify.NewNoop("sms", logger)
	if cfg.Notify.SMS.APIKey != "" {
		sms, err := notify.NewAfricasTalkingSMS(cfg.Notify.SMS)
		if err != nil {
			logger.Warn().Err(err).Msg("sms disabled")
		} else {
			customer = sms
		}
	}

	opsTargets := notify.Multi{notify.NewNoop("ops", logger)}
	if cfg.Notify.Telegram.Token != "" {
		tg, err := notify.NewTelegramOps(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram ops alerts disabled")
		} else {
			opsTargets = append(opsTargets, tg)
		}
	}
	return customer, opsTargets
}

func (a *app) buildPublisher(cfg *config.Config, logger *zerolog.Logger) adapter.EventPublisher {
	if cfg.Events.AMQPURL == "" {
		return events.NewNoopPublisher(logger)
	}
	pub, err := events.NewRabbitMQPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable: events are logged only")
		return events.NewNoopPublisher(logger)
	}
	a.onClose(func() { _ = pub.Close() })
	return pub
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for _, fn := range slices.Backward(a.closers) {
		fn()
	}
	a.closers = nil
}
