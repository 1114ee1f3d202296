package adapter

import (
	"context"
	"time"
)

// AccessGrant describes the network access a session buys.
type AccessGrant struct {
	SessionID      string
	Username       string
	Password       string
	SpeedProfile   string // "upload/download", e.g. "2M/5M"; empty for no limit
	DataLimitBytes uint64 // zero means unlimited
	Duration       time.Duration
}

// ConnectionInfo is one client currently online at the access device.
type ConnectionInfo struct {
	ID       string
	Username string
	Address  string
	MAC      string
	BytesIn  int64
	BytesOut int64
	Uptime   string
}

// RouterGateway provisions access on the hotspot device. Every method may
// fail with domain.ErrRouterUnavailable; callers log and continue.
type RouterGateway interface {
	GrantAccess(ctx context.Context, g AccessGrant) (handle string, err error)
	RevokeAccess(ctx context.Context, username string) error
	ListActiveConnections(ctx context.Context) ([]ConnectionInfo, error)
}
