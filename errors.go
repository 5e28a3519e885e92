package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by the error taxonomy so HTTP layers and clients can
// branch without string matching.
const (
	TextCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	TextCodeInvalidCreds      = "INVALID_CREDENTIALS"
	TextCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	TextCodePendingApproval   = "PENDING_APPROVAL"
	TextCodeAlreadyVerified   = "ALREADY_VERIFIED"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenInvalid      = "TOKEN_INVALID"
	TextCodeInvalidPassword   = "INVALID_CURRENT_PASSWORD"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
)

// ErrDuplicateEmail is returned when signing up with an email that already
// belongs to a verified credential.
var ErrDuplicateEmail = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials covers both unknown email and password mismatch so
// callers cannot enumerate accounts.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotConfirmed is returned when the password matches but the email
// ownership gate has not cleared.
var ErrEmailNotConfirmed = goerrors.New("email address has not been confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(goerrors.CodeUnauthorized)

// ErrPendingApproval is returned when the email is confirmed but the
// administrative approval gate has not cleared. Use PendingApprovalError to
// attach the current status.
var ErrPendingApproval = goerrors.New("account is awaiting administrative approval", goerrors.CategoryAuth).
	WithTextCode(TextCodePendingApproval).
	WithCode(goerrors.CodeForbidden)

// ErrAlreadyVerified is returned when confirming an email that has already
// been confirmed; no session tokens are minted.
var ErrAlreadyVerified = goerrors.New("email address is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeConflict)

// ErrTokenExpired is returned for signed tokens past their expiry and for
// opaque tokens whose stored expiry has passed.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that do not verify: bad
// signature, wrong issuer, wrong use, or no matching stored value.
var ErrTokenMalformed = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCurrentPassword is returned by password updates when the
// supplied current password does not match the stored hash.
var ErrInvalidCurrentPassword = goerrors.New("current password is incorrect", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// PendingApprovalError clones ErrPendingApproval carrying the profile's
// current approval status.
func PendingApprovalError(status ApprovalStatus) *goerrors.Error {
	return ErrPendingApproval.Clone().WithMetadata(map[string]any{
		"approval_status": status,
	})
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsTokenInvalidError will check for malformed or forged tokens
func IsTokenInvalidError(err error) bool {
	return hasTextCode(err, TextCodeTokenInvalid)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
