package identity

import (
	"context"
	"time"
)

const (
	// VerificationTokenTTL bounds how long a confirmation link stays valid.
	VerificationTokenTTL = time.Hour
	// ResetTokenTTL bounds how long a password reset link stays valid.
	ResetTokenTTL = 10 * time.Minute

	operationTimeout     = time.Second * 10
	emailDispatchTimeout = time.Second * 15
)

// Service orchestrates sign-up, sign-in, token refresh, sign-out, email
// confirmation, and password recovery over the credential and profile
// records. It is the sole writer of authentication state; the approval
// status itself is flipped by an external workflow that the service only
// reads.
type Service struct {
	repo             RepositoryManager
	tokens           TokenService
	mailer           Mailer
	logger           Logger
	activity         ActivitySink
	now              func() time.Time
	opaqueToken      func() (string, error)
	deterministicIDs bool
	contextKey       string
	authScheme       string
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMailer sets the external email dispatcher. Dispatch failures are
// logged and never fail the primary operation.
func WithMailer(mailer Mailer) ServiceOption {
	return func(s *Service) {
		if mailer != nil {
			s.mailer = mailer
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenService overrides the token service built from Config.
func WithTokenService(tokens TokenService) ServiceOption {
	return func(s *Service) {
		if tokens != nil {
			s.tokens = tokens
		}
	}
}

// WithOpaqueTokenSource overrides the random source for verification and
// reset tokens (useful for tests).
func WithOpaqueTokenSource(source func() (string, error)) ServiceOption {
	return func(s *Service) {
		if source != nil {
			s.opaqueToken = source
		}
	}
}

// WithDeterministicIDs derives credential IDs from the email via hashid
// instead of random UUIDs.
func WithDeterministicIDs() ServiceOption {
	return func(s *Service) {
		s.deterministicIDs = true
	}
}

// NewService returns a new identity Service
func NewService(repo RepositoryManager, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		mailer:      noopMailer{},
		logger:      defLogger{},
		now:         time.Now,
		opaqueToken: GenerateOpaqueToken,
		contextKey:  cfg.GetContextKey(),
		authScheme:  cfg.GetAuthScheme(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.tokens == nil {
		s.tokens = NewTokenService(
			[]byte(cfg.GetSigningKey()),
			cfg.GetAccessTokenTTL(),
			cfg.GetRefreshTokenTTL(),
			cfg.GetIssuer(),
			s.logger,
			WithTokenClock(s.now),
		)
	}

	return s
}

// TokenService returns the TokenService instance used by this Service
func (s *Service) TokenService() TokenService {
	return s.tokens
}

// ContextKey returns the locals key the gate stores verified claims under.
func (s *Service) ContextKey() string {
	return s.contextKey
}

// dispatchEmail hands a message to the mailer without blocking the caller.
// Errors are logged for diagnosis and never reach the primary operation.
func (s *Service) dispatchEmail(msg EmailMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emailDispatchTimeout)
		defer cancel()

		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger.Error("email dispatch failed", "kind", msg.Kind, "recipient", msg.Recipient, "error", err)
		}
	}()
}

// notifyAdmins sends a best-effort pending sign-up notice to every admin.
func (s *Service) notifyAdmins(email, fullName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emailDispatchTimeout)
		defer cancel()

		admins, err := s.repo.Profiles().AdminEmails(ctx)
		if err != nil {
			s.logger.Error("admin notification lookup failed", "error", err)
			return
		}

		for _, admin := range admins {
			msg := EmailMessage{
				Kind:      EmailKindAdminNotice,
				Recipient: admin,
				Variables: map[string]string{
					"email":     email,
					"full_name": fullName,
				},
			}
			if err := s.mailer.Send(ctx, msg); err != nil {
				s.logger.Error("admin notification failed", "recipient", admin, "error", err)
			}
		}
	}()
}

type noopMailer struct{}

func (noopMailer) Send(ctx context.Context, msg EmailMessage) error { return nil }
