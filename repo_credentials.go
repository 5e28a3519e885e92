package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RotateRefreshTokenSQL swaps one refresh token for another as a single
// update keyed on the old token's continued presence: of two concurrent
// refresh calls only one can match the EXISTS clause, the other affects no
// row and fails.
var RotateRefreshTokenSQL = `UPDATE "credentials" AS "cred"
SET
	"active_refresh_tokens" = json_insert(
		(SELECT COALESCE(json_group_array("value"), '[]')
		 FROM json_each("cred"."active_refresh_tokens")
		 WHERE "value" <> ?),
		'$[#]', ?),
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."id" = ?
AND EXISTS (
	SELECT 1 FROM json_each("cred"."active_refresh_tokens") WHERE "value" = ?
) RETURNING *;`

var AppendRefreshTokenSQL = `UPDATE "credentials" AS "cred"
SET
	"active_refresh_tokens" = json_insert(COALESCE("cred"."active_refresh_tokens", '[]'), '$[#]', ?),
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."id" = ?
RETURNING *;`

var ClearRefreshTokensSQL = `UPDATE "credentials" AS "cred"
SET
	"active_refresh_tokens" = '[]',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."id" = ?
RETURNING *;`

// ResetCredentialPasswordSQL stores the new hash, clears the reset token
// fields, and revokes every active refresh token in one statement.
var ResetCredentialPasswordSQL = `UPDATE "credentials" AS "cred"
SET
	"password_hash" = ?,
	"password_reset_token" = NULL,
	"password_reset_expire_at" = NULL,
	"active_refresh_tokens" = '[]',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."id" = ?
RETURNING *;`

// MarkEmailVerifiedSQL flips the verified flag and clears the expiry. The
// token value itself is retained so a replayed confirmation resolves to the
// verified record; with a NULL expiry the value can never validate again.
var MarkEmailVerifiedSQL = `UPDATE "credentials" AS "cred"
SET
	"is_email_verified" = TRUE,
	"email_verification_expire_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."id" = ?
RETURNING *;`

type Credentials interface {
	repository.Repository[*Credential]

	Register(ctx context.Context, record *Credential) (*Credential, error)
	RegisterTx(ctx context.Context, tx bun.IDB, record *Credential) (*Credential, error)

	GetByEmail(ctx context.Context, email string) (*Credential, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Credential, error)
	GetByVerificationToken(ctx context.Context, token string) (*Credential, error)
	GetByVerificationTokenTx(ctx context.Context, tx bun.IDB, token string) (*Credential, error)
	GetByResetToken(ctx context.Context, token string) (*Credential, error)
	GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*Credential, error)

	SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error
	SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	SetResetToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error
	SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	AppendRefreshToken(ctx context.Context, id uuid.UUID, token string) error
	AppendRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, oldToken, newToken string) error
	RotateRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, oldToken, newToken string) error
	ClearRefreshTokens(ctx context.Context, id uuid.UUID) error
	ClearRefreshTokensTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type credentials struct {
	repository.Repository[*Credential]
	db *bun.DB
}

var _ Credentials = (*credentials)(nil)

func NewCredentialsRepository(db *bun.DB) Credentials {
	repo := repository.NewRepository[*Credential](db, repository.ModelHandlers[*Credential]{
		NewRecord: func() *Credential { return &Credential{} },
		GetID: func(c *Credential) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Credential, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &credentials{
		Repository: repo,
		db:         db,
	}
}

func (a *credentials) Register(ctx context.Context, record *Credential) (*Credential, error) {
	return a.RegisterTx(ctx, a.db, record)
}

func (a *credentials) RegisterTx(ctx context.Context, tx bun.IDB, record *Credential) (*Credential, error) {
	prepareCredentialDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *credentials) GetByEmail(ctx context.Context, email string) (*Credential, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *credentials) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Credential, error) {
	return a.getByColumnTx(ctx, tx, "email", email)
}

func (a *credentials) GetByVerificationToken(ctx context.Context, token string) (*Credential, error) {
	return a.GetByVerificationTokenTx(ctx, a.db, token)
}

func (a *credentials) GetByVerificationTokenTx(ctx context.Context, tx bun.IDB, token string) (*Credential, error) {
	return a.getByColumnTx(ctx, tx, "email_verification_token", token)
}

func (a *credentials) GetByResetToken(ctx context.Context, token string) (*Credential, error) {
	return a.GetByResetTokenTx(ctx, a.db, token)
}

func (a *credentials) GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*Credential, error) {
	return a.getByColumnTx(ctx, tx, "password_reset_token", token)
}

func (a *credentials) getByColumnTx(ctx context.Context, tx bun.IDB, column, value string) (*Credential, error) {
	if value == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &Credential{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"column": column,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *credentials) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error {
	return a.SetVerificationTokenTx(ctx, a.db, id, token, expireAt)
}

func (a *credentials) SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error {
	record := &Credential{
		ID:                        id,
		EmailVerificationToken:    token,
		EmailVerificationExpireAt: &expireAt,
	}

	_, err := a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
	return err
}

func (a *credentials) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return a.MarkEmailVerifiedTx(ctx, a.db, id)
}

func (a *credentials) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return a.execKeyed(ctx, tx, MarkEmailVerifiedSQL, id, id.String())
}

func (a *credentials) SetResetToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error {
	return a.SetResetTokenTx(ctx, a.db, id, token, expireAt)
}

func (a *credentials) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error {
	record := &Credential{
		ID:                    id,
		PasswordResetToken:    token,
		PasswordResetExpireAt: &expireAt,
	}

	_, err := a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
	return err
}

func (a *credentials) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *credentials) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.execKeyed(ctx, tx, ResetCredentialPasswordSQL, id, passwordHash, id.String())
}

func (a *credentials) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *credentials) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	record := &Credential{
		ID:           id,
		PasswordHash: passwordHash,
	}

	_, err := a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
	return err
}

func (a *credentials) AppendRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.AppendRefreshTokenTx(ctx, a.db, id, token)
}

func (a *credentials) AppendRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	return a.execKeyed(ctx, tx, AppendRefreshTokenSQL, id, token, id.String())
}

func (a *credentials) RotateRefreshToken(ctx context.Context, id uuid.UUID, oldToken, newToken string) error {
	return a.RotateRefreshTokenTx(ctx, a.db, id, oldToken, newToken)
}

func (a *credentials) RotateRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, oldToken, newToken string) error {
	return a.execKeyed(ctx, tx, RotateRefreshTokenSQL, id, oldToken, newToken, id.String(), oldToken)
}

func (a *credentials) ClearRefreshTokens(ctx context.Context, id uuid.UUID) error {
	return a.ClearRefreshTokensTx(ctx, a.db, id)
}

func (a *credentials) ClearRefreshTokensTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return a.execKeyed(ctx, tx, ClearRefreshTokensSQL, id, id.String())
}

func (a *credentials) execKeyed(ctx context.Context, tx bun.IDB, sql string, id uuid.UUID, args ...any) error {
	res, err := a.Repository.RawTx(ctx, tx, sql, args...)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func prepareCredentialDefaults(record *Credential) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.ActiveRefreshTokens == nil {
		record.ActiveRefreshTokens = []string{}
	}
}
