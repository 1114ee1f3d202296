// File: internal/infra/adapters/router/routeros_gateway.go
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/ports/adapter"

	"github.com/go-routeros/routeros/v3"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var _ adapter.RouterGateway = (*RouterOSGateway)(nil)

// commander is the slice of the RouterOS API client we use.
type commander interface {
	Run(args []string) ([]map[string]string, string, error) // rows, ret, err
	Close()
}

// dialer opens one API connection.
type dialer func(ctx context.Context) (commander, error)

// RouterOSGateway provisions hotspot users on a MikroTik device. Every call
// opens its own connection and always closes it.
type RouterOSGateway struct {
	dial    dialer
	breaker *gobreaker.CircuitBreaker[any]
	log     *zerolog.Logger
}

func NewRouterOSGateway(cfg config.RouterConfig, logger *zerolog.Logger) *RouterOSGateway {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return newGateway(func(ctx context.Context) (commander, error) {
		wait := timeout
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
			wait = time.Until(dl)
		}
		c, err := routeros.DialTimeout(addr, cfg.Username, cfg.Password, wait)
		if err != nil {
			return nil, err
		}
		return &client{c: c}, nil
	}, logger)
}

func newGateway(dial dialer, logger *zerolog.Logger) *RouterOSGateway {
	compLog := logger.With().Str("component", "RouterOSGateway").Logger()
	g := &RouterOSGateway{dial: dial, log: &compLog}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "routeros",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return g
}

// client adapts *routeros.Client to commander.
type client struct{ c *routeros.Client }

func (c *client) Run(args []string) ([]map[string]string, string, error) {
	r, err := c.c.RunArgs(args)
	if err != nil {
		return nil, "", err
	}
	rows := make([]map[string]string, 0, len(r.Re))
	for _, s := range r.Re {
		rows = append(rows, s.Map)
	}
	ret := ""
	if r.Done != nil {
		ret = r.Done.Map["ret"]
	}
	return rows, ret, nil
}

func (c *client) Close() { c.c.Close() }

// withConn runs fn on a fresh connection behind the breaker. Every failure
// comes back wrapped in domain.ErrRouterUnavailable.
func (g *RouterOSGateway) withConn(ctx context.Context, op string, fn func(c commander) (any, error)) (any, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := g.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		defer c.Close()
		return fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRouterUnavailable, op, err)
	}
	return out, nil
}

func (g *RouterOSGateway) GrantAccess(ctx context.Context, a adapter.AccessGrant) (string, error) {
	if a.Username == "" || a.Password == "" {
		return "", fmt.Errorf("%w: username and password required", domain.ErrInvalidArgument)
	}
	out, err := g.withConn(ctx, "grant", func(c commander) (any, error) {
		profile := "default"
		if a.SpeedProfile != "" {
			profile = ProfileName(a.SpeedProfile)
			if err := ensureProfile(c, profile, a.SpeedProfile); err != nil {
				return nil, err
			}
		}
		// a retried grant replaces the earlier user
		if err := removeUsers(c, a.Username); err != nil {
			return nil, err
		}
		args := []string{
			"/ip/hotspot/user/add",
			"=name=" + a.Username,
			"=password=" + a.Password,
			"=profile=" + profile,
			"=disabled=no",
			"=comment=session:" + a.SessionID,
		}
		if a.Duration > 0 {
			args = append(args, "=limit-uptime="+FormatUptime(a.Duration))
		}
		if a.DataLimitBytes > 0 {
			args = append(args, "=limit-bytes-total="+strconv.FormatUint(a.DataLimitBytes, 10))
		}
		_, ret, err := c.Run(args)
		if err != nil {
			return nil, err
		}
		return ret, nil
	})
	if err != nil {
		return "", err
	}
	handle, _ := out.(string)
	g.log.Debug().Str("username", a.Username).Str("handle", handle).Msg("hotspot user created")
	return handle, nil
}

// RevokeAccess kicks the user's live connections and deletes the user.
// Revoking a user the device does not know is not an error.
func (g *RouterOSGateway) RevokeAccess(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("%w: username required", domain.ErrInvalidArgument)
	}
	_, err := g.withConn(ctx, "revoke", func(c commander) (any, error) {
		active, _, err := c.Run([]string{"/ip/hotspot/active/print", "?user=" + username})
		if err != nil {
			return nil, err
		}
		for _, row := range active {
			if _, _, err := c.Run([]string{"/ip/hotspot/active/remove", "=.id=" + row[".id"]}); err != nil {
				return nil, err
			}
		}
		return nil, removeUsers(c, username)
	})
	return err
}

func (g *RouterOSGateway) ListActiveConnections(ctx context.Context) ([]adapter.ConnectionInfo, error) {
	out, err := g.withConn(ctx, "list", func(c commander) (any, error) {
		rows, _, err := c.Run([]string{"/ip/hotspot/active/print"})
		if err != nil {
			return nil, err
		}
		conns := make([]adapter.ConnectionInfo, 0, len(rows))
		for _, r := range rows {
			conns = append(conns, adapter.ConnectionInfo{
				ID:       r[".id"],
				Username: r["user"],
				Address:  r["address"],
				MAC:      r["mac-address"],
				BytesIn:  parseInt(r["bytes-in"]),
				BytesOut: parseInt(r["bytes-out"]),
				Uptime:   r["uptime"],
			})
		}
		return conns, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]adapter.ConnectionInfo), nil
}

func ensureProfile(c commander, name, rateLimit string) error {
	rows, _, err := c.Run([]string{"/ip/hotspot/user/profile/print", "?name=" + name})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}
	_, _, err = c.Run([]string{
		"/ip/hotspot/user/profile/add",
		"=name=" + name,
		"=rate-limit=" + rateLimit,
		"=shared-users=1",
		"=status-autorefresh=1m",
	})
	var devErr *routeros.DeviceError
	if errors.As(err, &devErr) && strings.Contains(devErr.Error(), "already have") {
		return nil // lost a race with another grant
	}
	return err
}

func removeUsers(c commander, username string) error {
	rows, _, err := c.Run([]string{"/ip/hotspot/user/print", "?name=" + username})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, _, err := c.Run([]string{"/ip/hotspot/user/remove", "=.id=" + row[".id"]}); err != nil {
			return err
		}
	}
	return nil
}

// ProfileName maps a rate limit such as "2M/5M" to a profile name.
func ProfileName(rateLimit string) string {
	r := strings.NewReplacer("/", "-", " ", "")
	return "hs-" + r.Replace(rateLimit)
}

// FormatUptime renders d in the RouterOS time format, e.g. "1d02:00:00".
func FormatUptime(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	days := secs / 86400
	secs %= 86400
	hms := fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	if days > 0 {
		return strconv.FormatInt(days, 10) + "d" + hms
	}
	return hms
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
