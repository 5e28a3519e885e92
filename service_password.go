package identity

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// RequestPasswordReset starts password recovery for an email. The reply is
// the same whether or not the address is registered; when it is, a short
// lived single use reset token goes out by email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ErrNoEmptyString
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	cred, err := s.repo.Credentials().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credential")
	}

	token, err := s.opaqueToken()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}

	if err := s.repo.Credentials().SetResetToken(ctx, cred.ID, token, s.now().Add(ResetTokenTTL)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store reset token")
	}

	s.dispatchEmail(EmailMessage{
		Kind:      EmailKindPasswordReset,
		Recipient: email,
		Variables: map[string]string{
			"token": token,
		},
	})

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Subject:   cred.ID.String(),
		Email:     email,
	})

	return nil
}

// ResetPasswordInput is the payload for finalizing password recovery.
type ResetPasswordInput struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Validate will run validation rules
func (m ResetPasswordInput) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

// ResetPassword redeems a reset token and stores the new password. The
// token is consumed either way, and every active refresh token is revoked
// so stolen sessions do not outlive the password they were minted under.
func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if err := input.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid reset payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	cred, err := s.repo.Credentials().GetByResetToken(ctx, input.Token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrTokenMalformed
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up reset token")
	}

	if !cred.ResetTokenValid(input.Token, s.now()) {
		return ErrTokenExpired
	}

	hash, err := HashPassword(input.NewPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := s.repo.Credentials().ResetPassword(ctx, cred.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset password")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetDone,
		Subject:   cred.ID.String(),
		Email:     cred.Email,
	})

	return nil
}

// UpdatePasswordInput is the payload for an authenticated password change.
type UpdatePasswordInput struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Validate will run validation rules
func (m UpdatePasswordInput) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.CurrentPassword, validation.Required),
		validation.Field(&m.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

// UpdatePassword changes the password of an authenticated subject after
// re-checking the current one. Unlike recovery it leaves active refresh
// tokens alone: the subject proved possession of the password, other
// sessions are theirs too.
func (s *Service) UpdatePassword(ctx context.Context, credentialID uuid.UUID, input UpdatePasswordInput) error {
	if err := input.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	cred, err := s.repo.Credentials().GetByID(ctx, credentialID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credential")
	}

	if err := ComparePasswordAndHash(input.CurrentPassword, cred.PasswordHash); err != nil {
		return ErrInvalidCurrentPassword
	}

	hash, err := HashPassword(input.NewPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := s.repo.Credentials().UpdatePassword(ctx, cred.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Subject:   cred.ID.String(),
		Email:     cred.Email,
	})

	return nil
}
