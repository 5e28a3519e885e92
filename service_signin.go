package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// SignInInput is the payload for password authentication.
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (m SignInInput) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
		validation.Field(&m.Password, validation.Required),
	)
}

// SignInResult carries the minted token pair and the authenticated subject.
type SignInResult struct {
	TokenPair
	Identity Identity `json:"-"`
}

// SignIn authenticates an email/password pair. The same
// ErrInvalidCredentials comes back for an unknown email and for a wrong
// password so callers cannot probe which addresses exist. A correct
// password is not enough: the email must be confirmed and the profile
// approved before tokens are minted.
func (s *Service) SignIn(ctx context.Context, input SignInInput) (*SignInResult, error) {
	if err := input.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign in payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	email := NormalizeEmail(input.Email)

	cred, err := s.repo.Credentials().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventSignInFailure,
				Email:     email,
			})
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credential")
	}

	if err := ComparePasswordAndHash(input.Password, cred.PasswordHash); err != nil {
		s.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Subject:   cred.ID.String(),
			Email:     email,
		})
		return nil, ErrInvalidCredentials
	}

	if !cred.EmailVerified {
		return nil, ErrEmailNotConfirmed
	}

	profile, err := s.repo.Profiles().GetByCredentialID(ctx, cred.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up profile")
	}

	if profile.ApprovalStatus != ApprovalActive {
		return nil, PendingApprovalError(profile.ApprovalStatus)
	}

	subject := PrincipalFromRecords(cred, profile)

	pair, err := s.mintTokenPair(subject)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Credentials().AppendRefreshToken(ctx, cred.ID, pair.RefreshToken); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record refresh token")
	}

	s.recordLogin(cred)
	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSignInSuccess,
		Subject:   cred.ID.String(),
		Email:     email,
	})

	return &SignInResult{
		TokenPair: *pair,
		Identity:  subject,
	}, nil
}

func (s *Service) mintTokenPair(subject Identity) (*TokenPair, error) {
	access, err := s.tokens.MintAccessToken(subject)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint access token")
	}

	refresh, err := s.tokens.MintRefreshToken(subject)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint refresh token")
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// recordLogin stamps loggedin_at without blocking or failing sign-in.
func (s *Service) recordLogin(cred *Credential) {
	loggedIn := s.now()
	record := &Credential{
		ID:         cred.ID,
		LoggedInAt: &loggedIn,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if _, err := s.repo.Credentials().Update(ctx, record, repository.UpdateByID(cred.ID.String())); err != nil {
			s.logger.Error("failed to record login timestamp", "id", cred.ID.String(), "error", err)
		}
	}()
}
