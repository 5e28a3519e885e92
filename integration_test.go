package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "github.com/peoplekit/go-identity"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEmployeeLifecycle walks a new employee through the whole account
// lifecycle: sign-up, confirmation, approval, daily token usage, and
// password recovery.
func TestEmployeeLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// Sign up; nothing works yet.
	_, err := env.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	_, err = env.svc.SignIn(ctx, validSignIn())
	require.True(t, errors.Is(err, identity.ErrEmailNotConfirmed))

	// Confirm the email; approval still gates sign-in.
	cred := env.repos.credentialByEmail("ada@peoplekit.dev")
	require.NotNil(t, cred)

	confirmation, err := env.svc.ConfirmEmail(ctx, cred.EmailVerificationToken)
	require.NoError(t, err)
	require.Equal(t, identity.ApprovalPending, confirmation.ApprovalStatus)
	require.Nil(t, confirmation.Tokens)

	_, err = env.svc.SignIn(ctx, validSignIn())
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	require.Equal(t, identity.TextCodePendingApproval, richErr.TextCode)

	// An admin approves through the external workflow.
	require.True(t, env.repos.approveByEmail("ada@peoplekit.dev"))

	session, err := env.svc.SignIn(ctx, validSignIn())
	require.NoError(t, err)

	// A day of work: access expires, refresh rotates.
	env.clock.Advance(20 * time.Minute)

	_, err = env.svc.TokenService().ValidateUse(session.AccessToken, identity.TokenUseAccess)
	require.True(t, identity.IsTokenExpiredError(err))

	pair, err := env.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, session.RefreshToken)
	require.True(t, identity.IsTokenInvalidError(err), "rotated token must not be replayable")

	// Recover a forgotten password; every session dies with it.
	require.NoError(t, env.svc.RequestPasswordReset(ctx, "ada@peoplekit.dev"))

	cred = env.repos.credentialByEmail("ada@peoplekit.dev")
	require.NotNil(t, cred)
	require.NoError(t, env.svc.ResetPassword(ctx, identity.ResetPasswordInput{
		Token:       cred.PasswordResetToken,
		NewPassword: "rotated-password",
	}))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.True(t, identity.IsTokenInvalidError(err))

	session, err = env.svc.SignIn(ctx, identity.SignInInput{
		Email:    "ada@peoplekit.dev",
		Password: "rotated-password",
	})
	require.NoError(t, err)

	// Sign out; the refresh token is gone for good.
	require.NoError(t, env.svc.SignOut(ctx, session.AccessToken))

	_, err = env.svc.Refresh(ctx, session.RefreshToken)
	require.True(t, identity.IsTokenInvalidError(err))
}

// TestAdminLifecycle covers the self-approving admin path: confirmation
// mints tokens immediately, no separate approval step.
func TestAdminLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	input := validSignUp()
	input.Email = "boss@peoplekit.dev"
	input.Role = identity.RoleAdmin

	_, err := env.svc.SignUp(ctx, input)
	require.NoError(t, err)

	cred := env.repos.credentialByEmail("boss@peoplekit.dev")
	require.NotNil(t, cred)

	confirmation, err := env.svc.ConfirmEmail(ctx, cred.EmailVerificationToken)
	require.NoError(t, err)
	require.Equal(t, identity.ApprovalActive, confirmation.ApprovalStatus)
	require.NotNil(t, confirmation.Tokens)

	claims, err := env.svc.TokenService().ValidateUse(confirmation.Tokens.AccessToken, identity.TokenUseAccess)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, claims.Role())
	assert.True(t, claims.HasRole(identity.RoleAdmin))
}

// TestStalledSignup covers losing the first confirmation link: re-signing
// up re-issues it, the stale link dies, and the fresh one completes.
func TestStalledSignup(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	stale := env.repos.credentialByEmail("ada@peoplekit.dev")
	require.NotNil(t, stale)

	env.clock.Advance(2 * time.Hour)

	_, err = env.svc.ConfirmEmail(ctx, stale.EmailVerificationToken)
	require.True(t, identity.IsTokenExpiredError(err))

	result, err := env.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	require.True(t, result.VerificationReissued)

	fresh := env.repos.credentialByEmail("ada@peoplekit.dev")
	require.NotNil(t, fresh)
	require.NotEqual(t, stale.EmailVerificationToken, fresh.EmailVerificationToken)

	_, err = env.svc.ConfirmEmail(ctx, fresh.EmailVerificationToken)
	require.NoError(t, err)

	// Only one credential/profile pair exists.
	assert.Equal(t, stale.ID, fresh.ID)
}

// TestRejectedEmployee covers the terminal rejection path: the record
// stays, sign-in keeps failing with the rejected status attached.
func TestRejectedEmployee(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.signUpAndConfirm(t, validSignUp())

	cred := env.repos.credentialByEmail("ada@peoplekit.dev")
	require.NotNil(t, cred)

	profile, err := env.repos.Profiles().GetByCredentialID(ctx, cred.ID)
	require.NoError(t, err)
	_, err = env.repos.Profiles().SetApprovalStatus(ctx, profile.ID, identity.ApprovalRejected)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = env.svc.SignIn(ctx, validSignIn())
		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, identity.ApprovalRejected, richErr.Metadata["approval_status"])
	}

	// The terminal record still blocks re-registration.
	_, err = env.svc.SignUp(ctx, validSignUp())
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeDuplicateEmail, richErr.TextCode)
}
