package identity

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code.
var DefaultPhoneRegion = "US"

// SignUpInput is the payload for new registrations.
type SignUpInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone_number"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// Validate will run validation rules
func (m SignUpInput) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&m.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&m.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&m.Role, validation.In(RoleAdmin, RoleEmployee)),
		validation.Field(&m.Phone, validation.By(ValidatePhoneNumber)),
	)
}

// ValidatePhoneNumber is an ozzo rule accepting empty or parseable numbers.
func ValidatePhoneNumber(value any) error {
	phone, _ := value.(string)
	if phone == "" {
		return nil
	}

	if _, err := phonenumbers.Parse(phone, DefaultPhoneRegion); err != nil {
		return errors.New("must be a valid phone number")
	}

	return nil
}

// SignUpResult reports what sign-up did: either a fresh credential/profile
// pair, or a re-issued verification token for an existing unverified email.
type SignUpResult struct {
	CredentialID         uuid.UUID `json:"credential_id"`
	ProfileID            uuid.UUID `json:"profile_id,omitempty"`
	VerificationReissued bool      `json:"verification_reissued,omitempty"`
}

// SignUp creates the credential and profile records as one logical unit and
// dispatches the confirmation link. Signing up again with an unverified
// email re-issues the verification token instead of failing; a verified
// email fails with ErrDuplicateEmail.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*SignUpResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during sign up")
	default:
	}

	if err := input.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up payload").
			WithCode(goerrors.CodeBadRequest)
	}

	email := NormalizeEmail(input.Email)
	phone, err := normalizePhone(input.Phone)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number").
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	token, err := s.opaqueToken()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification token")
	}
	expireAt := s.now().Add(VerificationTokenTTL)

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result := &SignUpResult{}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Credentials().GetByEmailTx(ctx, tx, email)
		if err == nil {
			if existing.EmailVerified {
				return ErrDuplicateEmail
			}

			// Idempotent retry: no second record pair, the old token is
			// replaced and a fresh link goes out.
			if err := s.repo.Credentials().SetVerificationTokenTx(ctx, tx, existing.ID, token, expireAt); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to re-issue verification token")
			}

			result.CredentialID = existing.ID
			result.VerificationReissued = true
			return nil
		}

		if !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credential")
		}

		cred := &Credential{
			Email:                     email,
			PasswordHash:              hash,
			EmailVerificationToken:    token,
			EmailVerificationExpireAt: &expireAt,
		}

		if s.deterministicIDs {
			if id, err := hashid.NewUUID(email); err == nil {
				cred.ID = id
			}
		}

		if cred, err = s.repo.Credentials().RegisterTx(ctx, tx, cred); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create credential")
		}

		profile := &Profile{
			CredentialID: cred.ID,
			FullName:     input.FullName,
			Phone:        phone,
			Department:   input.Department,
			Role:         input.Role,
		}

		if profile, err = s.repo.Profiles().RegisterTx(ctx, tx, profile); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create profile")
		}

		result.CredentialID = cred.ID
		result.ProfileID = profile.ID
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "sign up transaction failed")
	}

	s.dispatchEmail(EmailMessage{
		Kind:      EmailKindVerification,
		Recipient: email,
		Variables: map[string]string{
			"token":     token,
			"full_name": input.FullName,
		},
	})

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSignUp,
		Subject:   result.CredentialID.String(),
		Email:     email,
		Metadata: map[string]any{
			"reissued": result.VerificationReissued,
		},
	})

	if !result.VerificationReissued && input.Role != RoleAdmin {
		s.notifyAdmins(email, input.FullName)
	}

	return result, nil
}

// NormalizeEmail lowercases and trims an address; email uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", nil
	}

	parsed, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
