package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Profiles interface {
	repository.Repository[*Profile]

	Register(ctx context.Context, record *Profile) (*Profile, error)
	RegisterTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error)

	GetByCredentialID(ctx context.Context, credentialID uuid.UUID) (*Profile, error)
	GetByCredentialIDTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) (*Profile, error)

	MarkEmailVerified(ctx context.Context, credentialID uuid.UUID) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) error

	SetApprovalStatus(ctx context.Context, id uuid.UUID, status ApprovalStatus) (*Profile, error)
	SetApprovalStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status ApprovalStatus) (*Profile, error)

	AdminEmails(ctx context.Context) ([]string, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db *bun.DB
}

var _ Profiles = (*profiles)(nil)

func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

func (a *profiles) Register(ctx context.Context, record *Profile) (*Profile, error) {
	return a.RegisterTx(ctx, a.db, record)
}

func (a *profiles) RegisterTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error) {
	prepareProfileDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *profiles) GetByCredentialID(ctx context.Context, credentialID uuid.UUID) (*Profile, error) {
	return a.GetByCredentialIDTx(ctx, a.db, credentialID)
}

func (a *profiles) GetByCredentialIDTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) (*Profile, error) {
	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.credential_id = ?", credentialID.String()).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"credential_id": credentialID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *profiles) MarkEmailVerified(ctx context.Context, credentialID uuid.UUID) error {
	return a.MarkEmailVerifiedTx(ctx, a.db, credentialID)
}

func (a *profiles) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*Profile)(nil)).
		Set("is_email_verified = ?", true).
		Where("?TableAlias.credential_id = ?", credentialID.String()).
		Exec(ctx)

	return err
}

// SetApprovalStatus is the entry point for the external approval workflow;
// the identity service reads the resulting status but never flips it itself.
func (a *profiles) SetApprovalStatus(ctx context.Context, id uuid.UUID, status ApprovalStatus) (*Profile, error) {
	return a.SetApprovalStatusTx(ctx, a.db, id, status)
}

func (a *profiles) SetApprovalStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status ApprovalStatus) (*Profile, error) {
	record := &Profile{
		ID:             id,
		ApprovalStatus: status,
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

// AdminEmails returns the credential emails of every admin profile, used
// for best-effort sign-up notices.
func (a *profiles) AdminEmails(ctx context.Context) ([]string, error) {
	var emails []string

	err := a.db.NewSelect().
		Model((*Profile)(nil)).
		ColumnExpr("cred.email").
		Join(`JOIN "credentials" AS "cred" ON "cred"."id" = "prf"."credential_id"`).
		Where("?TableAlias.user_role = ?", RoleAdmin).
		Scan(ctx, &emails)

	if err != nil {
		return nil, err
	}

	return emails, nil
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleEmployee
	}

	record.EnsureApprovalStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
