package identity

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated principal
type Identity interface {
	ID() string
	Email() string
	FullName() string
	Role() string
}

// Config holds token options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetContextKey() string
	GetAuthScheme() string
}

// EmailKind selects the template used by the mail dispatcher
type EmailKind = string

const (
	// EmailKindVerification carries the confirm-email link
	EmailKindVerification EmailKind = "email.verification"
	// EmailKindPasswordReset carries the reset-password link
	EmailKindPasswordReset EmailKind = "email.password_reset"
	// EmailKindAdminNotice tells admins about a pending sign-up
	EmailKindAdminNotice EmailKind = "email.admin_signup_notice"
)

// EmailMessage is what we hand to the external mail dispatcher.
type EmailMessage struct {
	Kind      EmailKind
	Recipient string
	Variables map[string]string
}

// Mailer delivers templated email. Failures are logged by the service and
// never propagated into the primary operation's result.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// TokenPair is an access/refresh token set minted for a principal.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
