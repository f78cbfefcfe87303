// Package auth mints and validates the bearer tokens that identify a models.Caller.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gigvault/backend/internal/models"
)

var (
	// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidRole is returned when a token carries an unknown caller role.
	ErrInvalidRole = errors.New("invalid role")
)

const issuer = "gigvault"

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Issue signs a token for caller.
func (a *Authenticator) Issue(caller models.Caller) (string, error) {
	if caller.ID == "" {
		return "", fmt.Errorf("%w: empty caller id", ErrInvalidToken)
	}
	if !validRole(caller.Role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, caller.Role)
	}
	now := a.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   caller.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: caller.Role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(a.secret)
}

// Authenticate validates token and returns the caller it names.
func (a *Authenticator) Authenticate(token string) (models.Caller, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return models.Caller{}, ErrInvalidToken
	}
	if !validRole(c.Role) {
		return models.Caller{}, fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	return models.Caller{ID: c.Subject, Role: c.Role}, nil
}

func validRole(role string) bool {
	switch role {
	case models.RoleParticipant, models.RoleArbitrator, models.RoleKeeper:
		return true
	}
	return false
}
