package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Refresh exchanges a live refresh token for a brand new token pair and
// rotates it: the presented token leaves the active set the moment the
// replacement enters it. A token that was already rotated, or revoked by
// sign-out or password reset, fails as malformed even though its signature
// still verifies.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateUse(refreshToken, TokenUseRefresh)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	subject := principal{
		id:    claims.UserID(),
		email: claims.UserEmail(),
		role:  claims.Role(),
	}

	pair, err := s.mintTokenPair(subject)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.repo.Credentials().RotateRefreshToken(ctx, id, refreshToken, pair.RefreshToken); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenMalformed
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		Subject:   id.String(),
		Email:     claims.UserEmail(),
	})

	return pair, nil
}

// SignOut revokes every active refresh token for the bearer of a valid
// access token. Outstanding access tokens keep working until they expire;
// their short lifetime bounds the exposure.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateUse(accessToken, TokenUseAccess)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return ErrTokenMalformed
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.repo.Credentials().ClearRefreshTokens(ctx, id); err != nil {
		if repository.IsRecordNotFound(err) {
			// Nothing left to revoke; sign-out is idempotent.
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh tokens")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSignOut,
		Subject:   id.String(),
		Email:     claims.UserEmail(),
	})

	return nil
}
