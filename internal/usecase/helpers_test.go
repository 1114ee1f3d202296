//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/infra/db/memory"
	"hotspot-billing/internal/infra/worker"
	"hotspot-billing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// --- Payment gateway fake ---

// fakeCallback is the wire format understood by fakeGateway.ParseCallback.
type fakeCallback struct {
	CorrelationID string `json:"cid"`
	Code          int    `json:"code"`
	Receipt       string `json:"receipt,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

func callbackJSON(t *testing.T, cid string, code int, receipt string, amount int64) []byte {
	t.Helper()
	b, err := json.Marshal(fakeCallback{CorrelationID: cid, Code: code, Receipt: receipt, Amount: amount})
	require.NoError(t, err)
	return b
}

type fakeGateway struct {
	mu       sync.Mutex
	pushErr  error
	queryRes adapter.CallbackResult
	queryErr error
	pushes   []adapter.PushRequest
	seq      int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) InitiatePush(_ context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	if g.pushErr != nil {
		return adapter.PushResult{}, g.pushErr
	}
	g.seq++
	return adapter.PushResult{
		CorrelationID:     fmt.Sprintf("ws_CO_%d", g.seq),
		MerchantRequestID: fmt.Sprintf("mr-%d", g.seq),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) ParseCallback(raw []byte) (adapter.CallbackResult, error) {
	var cb fakeCallback
	if err := json.Unmarshal(raw, &cb); err != nil || cb.CorrelationID == "" {
		return adapter.CallbackResult{}, domain.ErrInvalidArgument
	}
	return adapter.CallbackResult{
		CorrelationID: cb.CorrelationID,
		Success:       cb.Code == 0,
		ResultCode:    cb.Code,
		Receipt:       cb.Receipt,
		Amount:        cb.Amount,
	}, nil
}

func (g *fakeGateway) QueryPush(_ context.Context, cid string) (adapter.CallbackResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := g.queryRes
	res.CorrelationID = cid
	return res, g.queryErr
}

// --- Router fake ---

type fakeRouter struct {
	mu      sync.Mutex
	fail    bool
	grants  []adapter.AccessGrant
	revokes map[string]int
	conns   []adapter.ConnectionInfo
}

func newFakeRouter() *fakeRouter { return &fakeRouter{revokes: map[string]int{}} }

func (r *fakeRouter) GrantAccess(_ context.Context, g adapter.AccessGrant) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", domain.ErrRouterUnavailable
	}
	r.grants = append(r.grants, g)
	return "*" + g.Username[:4], nil
}

func (r *fakeRouter) RevokeAccess(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return domain.ErrRouterUnavailable
	}
	r.revokes[username]++
	return nil
}

func (r *fakeRouter) ListActiveConnections(context.Context) ([]adapter.ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, domain.ErrRouterUnavailable
	}
	return r.conns, nil
}

func (r *fakeRouter) revokeCount(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokes[username]
}

func (r *fakeRouter) grantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}

// --- Notification fakes ---

// inlineSubmitter runs tasks synchronously so tests can assert on them.
type inlineSubmitter struct{}

func (inlineSubmitter) Submit(task worker.Task) error { return task(context.Background()) }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, to, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to+": "+message)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []adapter.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e adapter.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// --- Wiring ---

type testEnv struct {
	store    *memory.Store
	gateway  *fakeGateway
	router   *fakeRouter
	sms      *recordingNotifier
	events   *recordingPublisher
	users    usecase.UserUseCase
	sessions usecase.SessionUseCase
	payments usecase.PaymentUseCase
	plan     *model.Plan
}

const testPhone = "0712345678"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := newTestLogger()

	env := &testEnv{
		store:   memory.NewStore(),
		gateway: &fakeGateway{},
		router:  newFakeRouter(),
		sms:     &recordingNotifier{},
		events:  &recordingPublisher{},
	}
	plan, err := model.NewPlan("plan-daily", "Daily", 10000, 24, "1GB", "2M/5M")
	require.NoError(t, err)
	require.NoError(t, env.store.Plans.Save(ctx, nil, plan))
	env.plan = plan

	notify := usecase.NewNotificationUseCase(env.sms, nil, env.events, inlineSubmitter{}, true, logger)
	env.users = usecase.NewUserUseCase(env.store.Users, logger)
	env.sessions = usecase.NewSessionUseCase(env.store.Sessions, env.store.Plans, env.store, env.router, notify, 10, logger)
	env.payments = usecase.NewPaymentUseCase(
		env.store.Payments, env.store.Plans, env.store.Sessions, env.store,
		env.users, env.sessions, env.gateway, notify,
		usecase.PaymentOptions{ReferencePrefix: "WIFI"}, logger,
	)
	return env
}

// initiate starts a payment for the default plan and returns its correlation id.
func (e *testEnv) initiate(t *testing.T) string {
	t.Helper()
	res, err := e.payments.Initiate(context.Background(), testPhone, e.plan.ID, e.plan.Price)
	require.NoError(t, err)
	return res.CorrelationID
}

func (e *testEnv) sessionCount(t *testing.T) int {
	t.Helper()
	all, err := e.store.Sessions.List(context.Background(), nil, "", 0)
	require.NoError(t, err)
	return len(all)
}

// insertSession stores a session directly, bypassing the ledger.
func (e *testEnv) insertSession(t *testing.T, userID string, end time.Time) *model.Session {
	t.Helper()
	s := &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    e.plan.ID,
		Token:     uuid.NewString(),
		StartTime: end.Add(-e.plan.Duration()),
		EndTime:   end,
		Status:    model.SessionStatusActive,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, e.store.Sessions.Create(context.Background(), nil, s))
	return s
}

var errBoom = errors.New("boom")
