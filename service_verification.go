package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ConfirmEmailResult reports the approval status at confirmation time and,
// when the profile is already approved, a token pair so the subject lands
// signed in.
type ConfirmEmailResult struct {
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	Tokens         *TokenPair     `json:"tokens,omitempty"`
}

// ConfirmEmail redeems a verification token. The token is single use: a
// replay resolves to the already verified record and fails with
// ErrAlreadyVerified rather than pretending the link never existed. An
// expired link fails with ErrTokenExpired and the subject must request a
// new one through ResendConfirmation.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*ConfirmEmailResult, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var cred *Credential
	var profile *Profile

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		cred, err = s.repo.Credentials().GetByVerificationTokenTx(ctx, tx, token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenMalformed
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
		}

		if cred.EmailVerified {
			return ErrAlreadyVerified
		}

		if !cred.VerificationTokenValid(token, s.now()) {
			return ErrTokenExpired
		}

		if err := s.repo.Credentials().MarkEmailVerifiedTx(ctx, tx, cred.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark credential verified")
		}

		if err := s.repo.Profiles().MarkEmailVerifiedTx(ctx, tx, cred.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark profile verified")
		}

		profile, err = s.repo.Profiles().GetByCredentialIDTx(ctx, tx, cred.ID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up profile")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "email confirmation failed")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailConfirmed,
		Subject:   cred.ID.String(),
		Email:     cred.Email,
	})

	result := &ConfirmEmailResult{ApprovalStatus: profile.ApprovalStatus}

	// Already approved subjects, admins typically, land signed in.
	if profile.ApprovalStatus == ApprovalActive {
		pair, err := s.mintTokenPair(PrincipalFromRecords(cred, profile))
		if err != nil {
			return nil, err
		}

		if err := s.repo.Credentials().AppendRefreshToken(ctx, cred.ID, pair.RefreshToken); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record refresh token")
		}

		result.Tokens = pair
	}

	return result, nil
}

// ResendConfirmation issues a fresh verification token for an unverified
// email. It reports success for unknown and already verified addresses
// alike, so the endpoint leaks nothing about which emails are registered.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
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

	if cred.EmailVerified {
		return nil
	}

	token, err := s.opaqueToken()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification token")
	}

	if err := s.repo.Credentials().SetVerificationToken(ctx, cred.ID, token, s.now().Add(VerificationTokenTTL)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification token")
	}

	s.dispatchEmail(EmailMessage{
		Kind:      EmailKindVerification,
		Recipient: email,
		Variables: map[string]string{
			"token": token,
		},
	})

	return nil
}
