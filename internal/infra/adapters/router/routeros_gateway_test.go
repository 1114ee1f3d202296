//go:build !integration

package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/ports/adapter"
)

// fakeDevice records every sentence and answers from canned rows.
type fakeDevice struct {
	mu       sync.Mutex
	calls    [][]string
	rows     map[string][]map[string]string // keyed by command word
	failOn   string
	dials    int
	closes   int
	dialFail bool
}

func (d *fakeDevice) dial(context.Context) (commander, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialFail {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{d: d}, nil
}

func (d *fakeDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c[0])
	}
	return out
}

func (d *fakeDevice) find(cmd string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c[0] == cmd {
			return c
		}
	}
	return nil
}

type fakeConn struct{ d *fakeDevice }

func (c *fakeConn) Run(args []string) ([]map[string]string, string, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.calls = append(c.d.calls, args)
	if c.d.failOn != "" && args[0] == c.d.failOn {
		return nil, "", errors.New("from RouterOS device: failure")
	}
	if strings.HasSuffix(args[0], "/add") {
		return nil, "*1A", nil
	}
	return c.d.rows[args[0]], "", nil
}

func (c *fakeConn) Close() {
	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
}

func newFake(d *fakeDevice) *RouterOSGateway {
	logger := zerolog.Nop()
	return newGateway(d.dial, &logger)
}

func TestRouterOSGateway_GrantAccess(t *testing.T) {
	ctx := context.Background()
	grant := adapter.AccessGrant{
		SessionID:      "sess-1",
		Username:       "sess-1",
		Password:       "tok",
		SpeedProfile:   "2M/5M",
		DataLimitBytes: 1_000_000_000,
		Duration:       24 * time.Hour,
	}

	t.Run("creates profile and user with limits", func(t *testing.T) {
		// --- Arrange ---
		d := &fakeDevice{}
		g := newFake(d)

		// --- Act ---
		handle, err := g.GrantAccess(ctx, grant)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, "*1A", handle)
		assert.Equal(t, []string{
			"/ip/hotspot/user/profile/print",
			"/ip/hotspot/user/profile/add",
			"/ip/hotspot/user/print",
			"/ip/hotspot/user/add",
		}, d.commands())

		add := d.find("/ip/hotspot/user/add")
		assert.Contains(t, add, "=name=sess-1")
		assert.Contains(t, add, "=password=tok")
		assert.Contains(t, add, "=profile=hs-2M-5M")
		assert.Contains(t, add, "=limit-uptime=1d00:00:00")
		assert.Contains(t, add, "=limit-bytes-total=1000000000")
		assert.Contains(t, d.find("/ip/hotspot/user/profile/add"), "=rate-limit=2M/5M")
		assert.Equal(t, 1, d.closes)
	})

	t.Run("reuses an existing profile and replaces a stale user", func(t *testing.T) {
		d := &fakeDevice{rows: map[string][]map[string]string{
			"/ip/hotspot/user/profile/print": {{".id": "*P1", "name": "hs-2M-5M"}},
			"/ip/hotspot/user/print":         {{".id": "*9", "name": "sess-1"}},
		}}
		g := newFake(d)

		_, err := g.GrantAccess(ctx, grant)

		require.NoError(t, err)
		assert.Nil(t, d.find("/ip/hotspot/user/profile/add"))
		assert.Contains(t, d.find("/ip/hotspot/user/remove"), "=.id=*9")
	})

	t.Run("device errors wrap ErrRouterUnavailable and close the connection", func(t *testing.T) {
		d := &fakeDevice{failOn: "/ip/hotspot/user/add"}
		g := newFake(d)

		_, err := g.GrantAccess(ctx, grant)

		assert.ErrorIs(t, err, domain.ErrRouterUnavailable)
		assert.Equal(t, 1, d.closes)
	})
}

func TestRouterOSGateway_RevokeAccess(t *testing.T) {
	d := &fakeDevice{rows: map[string][]map[string]string{
		"/ip/hotspot/active/print": {{".id": "*A1", "user": "sess-1"}},
		"/ip/hotspot/user/print":   {{".id": "*U1", "name": "sess-1"}},
	}}
	g := newFake(d)

	err := g.RevokeAccess(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, []string{
		"/ip/hotspot/active/print",
		"/ip/hotspot/active/remove",
		"/ip/hotspot/user/print",
		"/ip/hotspot/user/remove",
	}, d.commands())
	assert.Contains(t, d.find("/ip/hotspot/active/print"), "?user=sess-1")
}

func TestRouterOSGateway_ListActiveConnections(t *testing.T) {
	d := &fakeDevice{rows: map[string][]map[string]string{
		"/ip/hotspot/active/print": {
			{".id": "*A1", "user": "sess-1", "address": "10.5.50.10", "mac-address": "AA:BB:CC:DD:EE:FF", "bytes-in": "1200", "bytes-out": "3400", "uptime": "1h2m"},
		},
	}}
	g := newFake(d)

	conns, err := g.ListActiveConnections(context.Background())

	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "sess-1", conns[0].Username)
	assert.Equal(t, int64(1200), conns[0].BytesIn)
	assert.Equal(t, int64(3400), conns[0].BytesOut)
}

func TestRouterOSGateway_BreakerFailsFast(t *testing.T) {
	d := &fakeDevice{dialFail: true}
	g := newFake(d)

	for i := 0; i < 5; i++ {
		err := g.RevokeAccess(context.Background(), "sess-1")
		require.ErrorIs(t, err, domain.ErrRouterUnavailable)
	}

	assert.Equal(t, 3, d.dials, "breaker opens after three failed dials")
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "01:00:00", FormatUptime(time.Hour))
	assert.Equal(t, "2d03:04:05", FormatUptime(51*time.Hour+4*time.Minute+5*time.Second))
	assert.Equal(t, "hs-512k-2M", ProfileName("512k/2M"))
}

func TestNoopRouter(t *testing.T) {
	ctx := context.Background()
	r := NewNoopRouter()

	_, err := r.GrantAccess(ctx, adapter.AccessGrant{Username: "a", Password: "p"})
	require.NoError(t, err)
	conns, _ := r.ListActiveConnections(ctx)
	assert.Len(t, conns, 1)

	require.NoError(t, r.RevokeAccess(ctx, "a"))
	conns, _ = r.ListActiveConnections(ctx)
	assert.Empty(t, conns)
}
