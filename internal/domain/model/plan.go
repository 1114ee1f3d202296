package model

import (
	"strings"
	"time"

	"hotspot-billing/internal/domain"

	"github.com/dustin/go-humanize"
)

// Plan is a purchasable block of internet access.
type Plan struct {
	ID            string
	Name          string
	Description   string
	Price         int64 // minor currency units
	DurationHours int
	DataLimit     string // "1GB", "500MB", "unlimited"
	SpeedLimit    string // router rate limit, "upload/download", e.g. "2M/5M"
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// Duration returns the access window bought with this plan.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationHours) * time.Hour
}

// DataLimitBytes parses DataLimit; zero means unlimited.
func (p *Plan) DataLimitBytes() (uint64, error) {
	s := strings.TrimSpace(p.DataLimit)
	switch strings.ToLower(s) {
	case "", "unlimited", "0":
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, domain.ErrInvalidArgument
	}
	return n, nil
}

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, price int64, durationHours int, dataLimit, speedLimit string) (*Plan, error) {
	if id == "" || name == "" || price <= 0 || durationHours <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	p := &Plan{
		ID:            id,
		Name:          name,
		Price:         price,
		DurationHours: durationHours,
		DataLimit:     dataLimit,
		SpeedLimit:    speedLimit,
		Active:        true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if _, err := p.DataLimitBytes(); err != nil {
		return nil, err
	}
	return p, nil
}
