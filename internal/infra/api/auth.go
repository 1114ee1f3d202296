package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"hotspot-billing/internal/domain/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// StaffClaims is the payload of an admin bearer token.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthManager mints and verifies HS256 tokens for the admin API.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthManager(secret string, ttl time.Duration) *AuthManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint signs a token for subject with the given role.
func (a *AuthManager) Mint(subject string, role model.Role) (string, error) {
	now := a.now()
	claims := StaffClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseFromRequest reads "Authorization: Bearer <jwt>".
func (a *AuthManager) ParseFromRequest(r *http.Request) (*StaffClaims, error) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, errMissingToken
	}
	return a.Parse(strings.TrimSpace(hdr[7:]))
}

func (a *AuthManager) Parse(tok string) (*StaffClaims, error) {
	if len(a.secret) == 0 {
		return nil, errInvalidToken
	}
	claims := &StaffClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tkn.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// Claims returns the staff claims attached by RequireStaff.
func Claims(ctx context.Context) (*StaffClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*StaffClaims)
	return c, ok
}
