package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the principal's role
type Role = string

const (
	// RoleEmployee is a regular staff member, subject to admin approval
	RoleEmployee Role = "employee"
	// RoleAdmin manages employees and is approved at creation
	RoleAdmin Role = "admin"
)

// ApprovalStatus is the administrative approval state of a profile
type ApprovalStatus = string

const (
	// ApprovalPending means an admin has not yet reviewed the sign-up
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalActive means the principal may authenticate
	ApprovalActive ApprovalStatus = "active"
	// ApprovalRejected is terminal; the record is kept, never deleted
	ApprovalRejected ApprovalStatus = "rejected"
)

// Credential is the login principal: email, password hash, and the
// verification, reset, and session token state.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`

	ID                        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email                     string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash              string     `bun:"password_hash" json:"-"`
	EmailVerified             bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	EmailVerificationToken    string     `bun:"email_verification_token,nullzero" json:"-"`
	EmailVerificationExpireAt *time.Time `bun:"email_verification_expire_at,nullzero" json:"-"`
	PasswordResetToken        string     `bun:"password_reset_token,nullzero" json:"-"`
	PasswordResetExpireAt     *time.Time `bun:"password_reset_expire_at,nullzero" json:"-"`
	ActiveRefreshTokens       []string   `bun:"active_refresh_tokens,type:jsonb" json:"-"`
	LoggedInAt                *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt                 *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt                 *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// HasRefreshToken reports whether token is in the active set.
func (c *Credential) HasRefreshToken(token string) bool {
	for _, t := range c.ActiveRefreshTokens {
		if t == token {
			return true
		}
	}
	return false
}

// VerificationTokenValid reports whether token matches the stored
// verification token and its expiry is still in the future.
func (c *Credential) VerificationTokenValid(token string, now time.Time) bool {
	if c.EmailVerificationToken == "" || c.EmailVerificationToken != token {
		return false
	}
	return c.EmailVerificationExpireAt != nil && c.EmailVerificationExpireAt.After(now)
}

// ResetTokenValid reports whether token matches the stored reset token
// and its expiry is still in the future.
func (c *Credential) ResetTokenValid(token string, now time.Time) bool {
	if c.PasswordResetToken == "" || c.PasswordResetToken != token {
		return false
	}
	return c.PasswordResetExpireAt != nil && c.PasswordResetExpireAt.After(now)
}

// Profile is the employment-facing record: role, department, and the
// administrative approval gate. Linked 1:1 to a Credential.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`

	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	CredentialID   uuid.UUID      `bun:"credential_id,notnull,unique,type:uuid" json:"credential_id,omitempty"`
	Credential     *Credential    `bun:"rel:has-one,join:credential_id=id" json:"credential,omitempty"`
	FullName       string         `bun:"full_name,notnull" json:"full_name,omitempty"`
	Phone          string         `bun:"phone_number" json:"phone_number,omitempty"`
	Department     string         `bun:"department" json:"department,omitempty"`
	Role           Role           `bun:"user_role,notnull" json:"user_role,omitempty"`
	ApprovalStatus ApprovalStatus `bun:"approval_status,notnull" json:"approval_status,omitempty"`
	EmailVerified  bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (p *Profile) AddMetadata(key string, val any) *Profile {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = val
	return p
}

// EnsureApprovalStatus applies the role rule for new profiles: admins are
// active immediately, everyone else starts pending.
func (p *Profile) EnsureApprovalStatus() {
	if p.ApprovalStatus != "" {
		return
	}
	if p.Role == RoleAdmin {
		p.ApprovalStatus = ApprovalActive
		return
	}
	p.ApprovalStatus = ApprovalPending
}

// principal is the Identity handed to token minting and returned from
// service operations.
type principal struct {
	id    string
	email string
	name  string
	role  string
}

func (p principal) ID() string       { return p.id }
func (p principal) Email() string    { return p.email }
func (p principal) FullName() string { return p.name }
func (p principal) Role() string     { return p.role }

var _ Identity = principal{}

// PrincipalFromRecords builds the Identity for a credential/profile pair.
func PrincipalFromRecords(cred *Credential, profile *Profile) Identity {
	p := principal{}
	if cred != nil {
		p.id = cred.ID.String()
		p.email = cred.Email
	}
	if profile != nil {
		p.name = profile.FullName
		p.role = profile.Role
	}
	return p
}
