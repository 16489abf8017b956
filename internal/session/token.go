package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a bearer token does not carry readable claims.
var ErrMalformedToken = errors.New("malformed token")

// Identity is what the client knows about the signed-in user.
type Identity struct {
	Token     string    `json:"-" yaml:"-"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Email     string    `json:"email" yaml:"email"`
	IsAdmin   bool      `json:"is_admin" yaml:"is_admin"`
	ExpiresAt time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
}

type claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// ParseIdentity reads the claims of a JWT without verifying the signature;
// verification is the backend's job.
func ParseIdentity(token string) (*Identity, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	id := &Identity{
		Token:   token,
		UserID:  c.UserID,
		Email:   c.Subject,
		IsAdmin: c.IsAdmin,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}
