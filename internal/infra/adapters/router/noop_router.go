package router

import (
	"context"
	"sync"

	"hotspot-billing/internal/domain/ports/adapter"
)

var _ adapter.RouterGateway = (*NoopRouter)(nil)

// NoopRouter keeps grants in memory; used in dev mode and without a device.
type NoopRouter struct {
	mu    sync.Mutex
	users map[string]adapter.AccessGrant
}

func NewNoopRouter() *NoopRouter {
	return &NoopRouter{users: make(map[string]adapter.AccessGrant)}
}

func (r *NoopRouter) GrantAccess(_ context.Context, g adapter.AccessGrant) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[g.Username] = g
	return "noop-" + g.Username, nil
}

func (r *NoopRouter) RevokeAccess(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, username)
	return nil
}

// ListActiveConnections reports every granted user as online with no traffic.
func (r *NoopRouter) ListActiveConnections(context.Context) ([]adapter.ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]adapter.ConnectionInfo, 0, len(r.users))
	for name := range r.users {
		out = append(out, adapter.ConnectionInfo{ID: "noop-" + name, Username: name})
	}
	return out, nil
}
