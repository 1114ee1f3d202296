package model

import (
	"time"

	"hotspot-billing/internal/domain"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsStaff reports whether the role may use the admin API.
func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// User is a hotspot customer or operator, keyed by phone.
type User struct {
	ID        string
	Phone     string // canonical, see NormalizePhone
	Email     string
	FirstName string
	LastName  string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCustomer builds an active customer for an already-normalized phone.
func NewCustomer(id, phone string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if phone == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:        id,
		Phone:     phone,
		Role:      RoleCustomer,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
