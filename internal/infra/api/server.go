// Package api is the HTTP surface of the billing platform: the captive portal
// endpoints, the payment provider webhook and the operator API.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Limiter is a fixed-window rate limiter; *redis.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	RequestTimeout time.Duration
	InitiateLimit  int
	InitiateWindow time.Duration
	Currency       string
}

// Server holds the handlers' dependencies.
type Server struct {
	payments usecase.PaymentUseCase
	sessions usecase.SessionUseCase
	plans    *usecase.PlanUseCase
	stats    usecase.StatsUseCase
	auth     *AuthManager
	limiter  Limiter
	checks   map[string]Pinger
	opts     Options
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(
	payments usecase.PaymentUseCase,
	sessions usecase.SessionUseCase,
	plans *usecase.PlanUseCase,
	stats usecase.StatsUseCase,
	auth *AuthManager,
	limiter Limiter,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.InitiateLimit <= 0 {
		opts.InitiateLimit = 5
	}
	if opts.InitiateWindow <= 0 {
		opts.InitiateWindow = 10 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "KES"
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		payments: payments,
		sessions: sessions,
		plans:    plans,
		stats:    stats,
		auth:     auth,
		limiter:  limiter,
		checks:   map[string]Pinger{},
		opts:     opts,
		validate: v,
		log:      logging.Component(logger, "HTTP"),
	}
}

// AddCheck registers a dependency reported by /health.
func (s *Server) AddCheck(name string, p Pinger) {
	s.checks[name] = p
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/public", func(r chi.Router) {
		r.Get("/plans", s.listPlans)
		r.Post("/payment", s.initiatePayment)
		r.Get("/payment/status/{correlationId}", s.paymentStatus)
		r.Post("/payment/callback", s.paymentCallback)
		r.Post("/connect", s.connect)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireStaff(s.auth))
		r.Get("/dashboard", s.dashboard)
		r.Get("/sessions", s.listSessions)
		r.Post("/sessions/{id}/terminate", s.terminateSession)
		r.Get("/router/status", s.routerStatus)
		r.Post("/payments/{id}/cancel", s.cancelPayment)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Str("dependency", name).Msg("health check failed")
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}
	body := map[string]any{"status": "ok", "timestamp": time.Now().UTC()}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
		writeJSON(w, status, envelope{Success: false, Data: body, Error: "Dependency unavailable"})
		return
	}
	writeData(w, status, body)
}

// fail logs unexpected errors and writes the mapped response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	l := logging.With(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		l.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeFail(w, status, msg)
}
