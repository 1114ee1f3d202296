package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/infra/metrics"
	"hotspot-billing/internal/infra/security"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

// SessionUseCase is the session ledger. It is the only writer of session
// rows and the only caller of the router.
type SessionUseCase interface {
	// CreateSession opens a session for (user, plan) with the given token.
	// ErrActiveSessionExists if a live ACTIVE session already holds the pair.
	CreateSession(ctx context.Context, userID, planID, token string) (*model.Session, error)
	// GetActiveSession never returns a session past its end time; such a
	// session is expired on the spot and ErrNotFound is returned.
	GetActiveSession(ctx context.Context, token string) (*model.Session, error)
	// TerminateSession revokes an ACTIVE session. Terminal sessions are left as is.
	TerminateSession(ctx context.Context, id string) error
	// Sweep expires every ACTIVE session whose end time has passed.
	Sweep(ctx context.Context) (int, error)
	// SyncUsage copies per-connection byte counters from the router.
	SyncUsage(ctx context.Context) (int, error)
	List(ctx context.Context, status model.SessionStatus, limit int) ([]*model.Session, error)
	RouterStatus(ctx context.Context) (*RouterStatus, error)

	// OpenInTx grants a session for a completed payment inside the caller's
	// transaction, reusing a live ACTIVE session for the same pair instead
	// of stacking a second one.
	OpenInTx(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan, paymentID string) (*Grant, error)
	// Activate performs the post-commit side effects of a Grant.
	Activate(ctx context.Context, g *Grant, plan *model.Plan)
}

// Grant is the result of OpenInTx.
type Grant struct {
	Session *model.Session
	Created bool
	// Superseded holds ACTIVE sessions past their end that were expired to
	// make room; their router access is revoked on Activate.
	Superseded []*model.Session
}

// RouterStatus is the admin view of the access device.
type RouterStatus struct {
	Reachable   bool
	Error       string
	Connections []adapter.ConnectionInfo
	Sessions    map[model.SessionStatus]int
}

type sessionUC struct {
	sessions repository.SessionRepository
	plans    repository.PlanRepository
	tm       repository.TransactionManager
	router   adapter.RouterGateway
	notify   NotificationUseCase
	batch    int
	now      func() time.Time
	newToken func() (string, error)
	log      *zerolog.Logger
}

func NewSessionUseCase(
	sessions repository.SessionRepository,
	plans repository.PlanRepository,
	tm repository.TransactionManager,
	router adapter.RouterGateway,
	notify NotificationUseCase,
	sweepBatch int,
	logger *zerolog.Logger,
) *sessionUC {
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	return &sessionUC{
		sessions: sessions,
		plans:    plans,
		tm:       tm,
		router:   router,
		notify:   notify,
		batch:    sweepBatch,
		now:      time.Now,
		newToken: security.NewToken,
		log:      logging.Component(logger, "SessionUC"),
	}
}

// RouterUsername is the hotspot login created on the device for a session.
func RouterUsername(s *model.Session) string { return s.ID }

var txReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func (s *sessionUC) CreateSession(ctx context.Context, userID, planID, token string) (*model.Session, error) {
	defer logging.TraceDuration(s.log, "SessionUC.CreateSession")()

	plan, err := s.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}

	var g *Grant
	err = s.tm.WithTx(ctx, txReadCommitted, func(ctx context.Context, tx repository.Tx) error {
		sess, superseded, err := s.create(ctx, tx, userID, plan, "", token)
		if err != nil {
			return err
		}
		g = &Grant{Session: sess, Created: true, Superseded: superseded}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Activate(ctx, g, plan)
	return g.Session, nil
}

// create inserts a new ACTIVE session under the (user, plan) lock. An ACTIVE
// row that is already past its end is expired first; a live one wins.
func (s *sessionUC) create(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan, paymentID, token string) (*model.Session, []*model.Session, error) {
	if err := s.sessions.LockPair(ctx, tx, userID, plan.ID); err != nil {
		return nil, nil, err
	}
	now := s.now()

	var superseded []*model.Session
	existing, err := s.sessions.FindActiveByUserAndPlan(ctx, tx, userID, plan.ID)
	switch {
	case err == nil:
		if existing.LiveAt(now) {
			return nil, nil, domain.ErrActiveSessionExists
		}
		moved, err := s.sessions.MarkExpiredIfActive(ctx, tx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		if moved {
			existing.Status = model.SessionStatusExpired
			superseded = append(superseded, existing)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, nil, err
	}

	sess, err := model.NewSession(uuid.NewString(), userID, paymentID, token, plan, now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.sessions.Create(ctx, tx, sess); err != nil {
		return nil, nil, err
	}
	return sess, superseded, nil
}

func (s *sessionUC) OpenInTx(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan, paymentID string) (*Grant, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	sess, superseded, err := s.create(ctx, tx, userID, plan, paymentID, token)
	if err == nil {
		return &Grant{Session: sess, Created: true, Superseded: superseded}, nil
	}
	if !errors.Is(err, domain.ErrActiveSessionExists) {
		return nil, err
	}

	if paymentID != "" {
		if prior, err := s.sessions.FindByPaymentID(ctx, tx, paymentID); err == nil {
			return &Grant{Session: prior}, nil
		}
	}
	existing, err := s.sessions.FindActiveByUserAndPlan(ctx, tx, userID, plan.ID)
	if err != nil {
		return nil, err
	}
	return &Grant{Session: existing}, nil
}

func (s *sessionUC) Activate(ctx context.Context, g *Grant, plan *model.Plan) {
	if g == nil {
		return
	}
	for _, old := range g.Superseded {
		s.revoke(ctx, old)
		s.published(adapter.EventSessionExpired, old)
	}
	if len(g.Superseded) > 0 {
		metrics.IncSessionEvent("expired", len(g.Superseded))
	}
	if !g.Created {
		return
	}
	metrics.IncSessionEvent("created", 1)
	s.provision(ctx, g.Session, plan)
	s.published(adapter.EventSessionCreated, g.Session)
}

func (s *sessionUC) GetActiveSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}
	sess, err := s.sessions.FindByToken(ctx, repository.NoTX, token)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, domain.ErrNotFound
	}
	if sess.ExpiredAt(s.now()) {
		s.expire(ctx, sess)
		return nil, domain.ErrNotFound
	}
	return sess, nil
}

func (s *sessionUC) TerminateSession(ctx context.Context, id string) error {
	defer logging.TraceDuration(s.log, "SessionUC.TerminateSession")()

	sess, err := s.sessions.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	moved, err := s.sessions.MarkTerminatedIfActive(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if !moved {
		s.log.Debug().Str("session_id", id).Str("status", string(sess.Status)).Msg("terminate on terminal session ignored")
		return nil
	}
	sess.Status = model.SessionStatusTerminated
	metrics.IncSessionEvent("terminated", 1)
	s.revoke(ctx, sess)
	s.published(adapter.EventSessionTerminated, sess)
	s.log.Info().Str("session_id", id).Msg("session terminated")
	return nil
}

func (s *sessionUC) Sweep(ctx context.Context) (int, error) {
	defer logging.TraceDuration(s.log, "SessionUC.Sweep")()

	total := 0
	for {
		expired, err := s.sessions.ListExpired(ctx, repository.NoTX, s.now(), s.batch)
		if err != nil {
			return total, err
		}
		moved := 0
		for _, sess := range expired {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if s.expire(ctx, sess) {
				moved++
			}
		}
		total += moved
		// a short page is the last one; a page where nothing moved means a
		// concurrent sweeper owns these rows
		if len(expired) < s.batch || moved == 0 {
			break
		}
	}
	if total > 0 {
		s.log.Info().Int("count", total).Msg("expired sessions swept")
	}
	return total, nil
}

// expire moves sess to EXPIRED and revokes it, only if this call won the
// transition.
func (s *sessionUC) expire(ctx context.Context, sess *model.Session) bool {
	moved, err := s.sessions.MarkExpiredIfActive(ctx, repository.NoTX, sess.ID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to expire session")
		return false
	}
	if !moved {
		return false
	}
	sess.Status = model.SessionStatusExpired
	metrics.IncSessionEvent("expired", 1)
	s.revoke(ctx, sess)
	s.published(adapter.EventSessionExpired, sess)
	return true
}

func (s *sessionUC) SyncUsage(ctx context.Context) (int, error) {
	conns, err := s.router.ListActiveConnections(ctx)
	metrics.IncRouterOp("list", err)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, c := range conns {
		if c.Username == "" {
			continue
		}
		sess, err := s.sessions.FindByID(ctx, repository.NoTX, c.Username)
		if err != nil || sess.Status != model.SessionStatusActive {
			continue
		}
		if err := s.sessions.UpdateDataUsed(ctx, repository.NoTX, sess.ID, c.BytesIn+c.BytesOut); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to record usage")
			continue
		}
		updated++
	}
	return updated, nil
}

func (s *sessionUC) List(ctx context.Context, status model.SessionStatus, limit int) ([]*model.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.sessions.List(ctx, repository.NoTX, status, limit)
}

func (s *sessionUC) RouterStatus(ctx context.Context) (*RouterStatus, error) {
	counts, err := s.sessions.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	metrics.SetSessionsTotal(counts)

	st := &RouterStatus{Sessions: counts}
	conns, err := s.router.ListActiveConnections(ctx)
	metrics.IncRouterOp("list", err)
	if err != nil {
		st.Error = err.Error()
		return st, nil
	}
	st.Reachable = true
	st.Connections = conns
	return st, nil
}

func (s *sessionUC) provision(ctx context.Context, sess *model.Session, plan *model.Plan) {
	limit, err := plan.DataLimitBytes()
	if err != nil {
		s.log.Warn().Str("plan_id", plan.ID).Str("data_limit", plan.DataLimit).Msg("unparseable data limit; granting without one")
	}
	handle, err := s.router.GrantAccess(ctx, adapter.AccessGrant{
		SessionID:      sess.ID,
		Username:       RouterUsername(sess),
		Password:       sess.Token,
		SpeedProfile:   plan.SpeedLimit,
		DataLimitBytes: limit,
		Duration:       sess.Remaining(s.now()),
	})
	metrics.IncRouterOp("grant", err)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("router grant failed; session stays active")
		return
	}
	if handle == "" {
		return
	}
	if err := s.sessions.UpdateRouterHandle(ctx, repository.NoTX, sess.ID, handle); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to store router handle")
		return
	}
	sess.RouterHandle = &handle
}

func (s *sessionUC) revoke(ctx context.Context, sess *model.Session) {
	err := s.router.RevokeAccess(ctx, RouterUsername(sess))
	metrics.IncRouterOp("revoke", err)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("router revoke failed")
	}
}

func (s *sessionUC) published(eventType string, sess *model.Session) {
	if s.notify == nil {
		return
	}
	s.notify.Publish(eventType, map[string]any{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"plan_id":    sess.PlanID,
		"payment_id": sess.PaymentID,
		"status":     string(sess.Status),
		"end_time":   sess.EndTime.UTC().Format(time.RFC3339),
	})
}
