package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse discriminates access tokens from refresh tokens so one cannot
// stand in for the other.
type TokenUse = string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

// AuthClaims represents the verified content of a signed token
type AuthClaims interface {
	Subject() string
	UserID() string
	UserEmail() string
	Role() string
	Use() TokenUse
	HasRole(role string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string   `json:"uid,omitempty"`
	Email    string   `json:"email,omitempty"`
	UserRole string   `json:"role,omitempty"`
	TokenUse TokenUse `json:"use,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// UserEmail returns the email claim
func (c *JWTClaims) UserEmail() string {
	return c.Email
}

// Role returns the principal's role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// Use returns the token use: access or refresh
func (c *JWTClaims) Use() TokenUse {
	return c.TokenUse
}

// HasRole checks if the principal carries a specific role
func (c *JWTClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
