package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	identity "github.com/peoplekit/go-identity"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type testConfig struct {
	signingKey string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c testConfig) GetSigningKey() string             { return c.signingKey }
func (c testConfig) GetIssuer() string                 { return c.issuer }
func (c testConfig) GetAccessTokenTTL() time.Duration  { return c.accessTTL }
func (c testConfig) GetRefreshTokenTTL() time.Duration { return c.refreshTTL }
func (c testConfig) GetContextKey() string             { return "identity" }
func (c testConfig) GetAuthScheme() string             { return "Bearer" }

func newTestConfig() testConfig {
	return testConfig{
		signingKey: "test-signing-key-0123456789",
		issuer:     "peoplekit-test",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
	}
}

// testClock is an adjustable clock shared by the service, token service,
// and assertions.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memMailer records every message handed to it.
type memMailer struct {
	mu       sync.Mutex
	messages []identity.EmailMessage
	fail     bool
}

func (m *memMailer) Send(ctx context.Context, msg identity.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return context.DeadlineExceeded
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memMailer) Sent() []identity.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.EmailMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *memMailer) WaitFor(kind identity.EmailKind, timeout time.Duration) *identity.EmailMessage {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, msg := range m.Sent() {
			if msg.Kind == kind {
				found := msg
				return &found
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// memActivity collects audit events.
type memActivity struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (m *memActivity) Record(ctx context.Context, event identity.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memActivity) Events() []identity.ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.ActivityEvent, len(m.events))
	copy(out, m.events)
	return out
}

type testEnv struct {
	svc      *identity.Service
	repos    *fakeRepos
	mailer   *memMailer
	activity *memActivity
	clock    *testClock
}

func newTestEnv(opts ...identity.ServiceOption) *testEnv {
	env := &testEnv{
		repos:    newFakeRepos(),
		mailer:   &memMailer{},
		activity: &memActivity{},
		clock:    newTestClock(),
	}

	base := []identity.ServiceOption{
		identity.WithMailer(env.mailer),
		identity.WithActivitySink(env.activity),
		identity.WithClock(env.clock.Now),
	}

	env.svc = identity.NewService(env.repos, newTestConfig(), append(base, opts...)...)
	return env
}

// signUpAndConfirm walks a subject through sign-up and email confirmation.
func (env *testEnv) signUpAndConfirm(t interface {
	Fatalf(format string, args ...any)
}, input identity.SignUpInput) *identity.ConfirmEmailResult {
	ctx := context.Background()

	if _, err := env.svc.SignUp(ctx, input); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	cred := env.repos.credentialByEmail(identity.NormalizeEmail(input.Email))
	if cred == nil {
		t.Fatalf("credential not stored for %s", input.Email)
	}

	result, err := env.svc.ConfirmEmail(ctx, cred.EmailVerificationToken)
	if err != nil {
		t.Fatalf("confirm email: %v", err)
	}
	return result
}

// memStore is the shared state behind the fake repositories.
type memStore struct {
	mu          sync.Mutex
	credentials map[uuid.UUID]*identity.Credential
	profiles    map[uuid.UUID]*identity.Profile
}

func newMemStore() *memStore {
	return &memStore{
		credentials: make(map[uuid.UUID]*identity.Credential),
		profiles:    make(map[uuid.UUID]*identity.Profile),
	}
}

func copyCredential(c *identity.Credential) *identity.Credential {
	clone := *c
	clone.ActiveRefreshTokens = append([]string(nil), c.ActiveRefreshTokens...)
	return &clone
}

func copyProfile(p *identity.Profile) *identity.Profile {
	clone := *p
	return &clone
}

// fakeRepos implements identity.RepositoryManager on the memStore. Methods
// of the embedded repository interfaces that nothing calls stay nil.
type fakeRepos struct {
	store       *memStore
	credentials *fakeCredentials
	profiles    *fakeProfiles
}

func newFakeRepos() *fakeRepos {
	store := newMemStore()
	return &fakeRepos{
		store:       store,
		credentials: &fakeCredentials{store: store},
		profiles:    &fakeProfiles{store: store},
	}
}

func (f *fakeRepos) Validate() error { return nil }
func (f *fakeRepos) MustValidate()   {}

func (f *fakeRepos) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn(ctx, bun.Tx{})
	}
}

func (f *fakeRepos) Credentials() identity.Credentials { return f.credentials }
func (f *fakeRepos) Profiles() identity.Profiles       { return f.profiles }

type fakeCredentials struct {
	repository.Repository[*identity.Credential]
	store *memStore
}

func (f *fakeCredentials) findByID(id uuid.UUID) *identity.Credential {
	return f.store.credentials[id]
}

func (f *fakeCredentials) Register(ctx context.Context, record *identity.Credential) (*identity.Credential, error) {
	return f.RegisterTx(ctx, nil, record)
}

func (f *fakeCredentials) RegisterTx(ctx context.Context, tx bun.IDB, record *identity.Credential) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.ActiveRefreshTokens == nil {
		record.ActiveRefreshTokens = []string{}
	}

	for _, existing := range f.store.credentials {
		if existing.Email == record.Email {
			return nil, goerrors.New("duplicate email", goerrors.CategoryConflict)
		}
	}

	f.store.credentials[record.ID] = copyCredential(record)
	return copyCredential(record), nil
}

func (f *fakeCredentials) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}
	if cred := f.findByID(parsed); cred != nil {
		return copyCredential(cred), nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeCredentials) Update(ctx context.Context, record *identity.Credential, criteria ...repository.UpdateCriteria) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(record.ID)
	if cred == nil {
		return nil, repository.NewRecordNotFound()
	}
	if record.LoggedInAt != nil {
		cred.LoggedInAt = record.LoggedInAt
	}
	return copyCredential(cred), nil
}

func (f *fakeCredentials) GetByEmail(ctx context.Context, email string) (*identity.Credential, error) {
	return f.GetByEmailTx(ctx, nil, email)
}

func (f *fakeCredentials) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, cred := range f.store.credentials {
		if cred.Email == email {
			return copyCredential(cred), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeCredentials) GetByVerificationToken(ctx context.Context, token string) (*identity.Credential, error) {
	return f.GetByVerificationTokenTx(ctx, nil, token)
}

func (f *fakeCredentials) GetByVerificationTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if token == "" {
		return nil, repository.NewRecordNotFound()
	}
	for _, cred := range f.store.credentials {
		if cred.EmailVerificationToken == token {
			return copyCredential(cred), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeCredentials) GetByResetToken(ctx context.Context, token string) (*identity.Credential, error) {
	return f.GetByResetTokenTx(ctx, nil, token)
}

func (f *fakeCredentials) GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.Credential, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if token == "" {
		return nil, repository.NewRecordNotFound()
	}
	for _, cred := range f.store.credentials {
		if cred.PasswordResetToken == token {
			return copyCredential(cred), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeCredentials) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error {
	return f.SetVerificationTokenTx(ctx, nil, id, token, expireAt)
}

func (f *fakeCredentials) SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.EmailVerificationToken = token
	cred.EmailVerificationExpireAt = &expireAt
	return nil
}

func (f *fakeCredentials) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return f.MarkEmailVerifiedTx(ctx, nil, id)
}

func (f *fakeCredentials) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.EmailVerified = true
	cred.EmailVerificationExpireAt = nil
	return nil
}

func (f *fakeCredentials) SetResetToken(ctx context.Context, id uuid.UUID, token string, expireAt time.Time) error {
	return f.SetResetTokenTx(ctx, nil, id, token, expireAt)
}

func (f *fakeCredentials) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expireAt time.Time) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.PasswordResetToken = token
	cred.PasswordResetExpireAt = &expireAt
	return nil
}

func (f *fakeCredentials) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return f.ResetPasswordTx(ctx, nil, id, passwordHash)
}

func (f *fakeCredentials) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.PasswordHash = passwordHash
	cred.PasswordResetToken = ""
	cred.PasswordResetExpireAt = nil
	cred.ActiveRefreshTokens = []string{}
	return nil
}

func (f *fakeCredentials) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return f.UpdatePasswordTx(ctx, nil, id, passwordHash)
}

func (f *fakeCredentials) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.PasswordHash = passwordHash
	return nil
}

func (f *fakeCredentials) AppendRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	return f.AppendRefreshTokenTx(ctx, nil, id, token)
}

func (f *fakeCredentials) AppendRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.ActiveRefreshTokens = append(cred.ActiveRefreshTokens, token)
	return nil
}

func (f *fakeCredentials) RotateRefreshToken(ctx context.Context, id uuid.UUID, oldToken, newToken string) error {
	return f.RotateRefreshTokenTx(ctx, nil, id, oldToken, newToken)
}

// RotateRefreshTokenTx mirrors the production statement: the swap only
// happens while the old token is still in the active set, so of two
// concurrent rotations exactly one wins.
func (f *fakeCredentials) RotateRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, oldToken, newToken string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil || !cred.HasRefreshToken(oldToken) {
		return repository.NewRecordNotFound()
	}

	kept := make([]string, 0, len(cred.ActiveRefreshTokens))
	for _, t := range cred.ActiveRefreshTokens {
		if t != oldToken {
			kept = append(kept, t)
		}
	}
	cred.ActiveRefreshTokens = append(kept, newToken)
	return nil
}

func (f *fakeCredentials) ClearRefreshTokens(ctx context.Context, id uuid.UUID) error {
	return f.ClearRefreshTokensTx(ctx, nil, id)
}

func (f *fakeCredentials) ClearRefreshTokensTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	cred := f.findByID(id)
	if cred == nil {
		return repository.NewRecordNotFound()
	}
	cred.ActiveRefreshTokens = []string{}
	return nil
}

type fakeProfiles struct {
	repository.Repository[*identity.Profile]
	store *memStore
}

func (f *fakeProfiles) Register(ctx context.Context, record *identity.Profile) (*identity.Profile, error) {
	return f.RegisterTx(ctx, nil, record)
}

func (f *fakeProfiles) RegisterTx(ctx context.Context, tx bun.IDB, record *identity.Profile) (*identity.Profile, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if record.Role == "" {
		record.Role = identity.RoleEmployee
	}
	record.EnsureApprovalStatus()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	f.store.profiles[record.ID] = copyProfile(record)
	return copyProfile(record), nil
}

func (f *fakeProfiles) GetByCredentialID(ctx context.Context, credentialID uuid.UUID) (*identity.Profile, error) {
	return f.GetByCredentialIDTx(ctx, nil, credentialID)
}

func (f *fakeProfiles) GetByCredentialIDTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) (*identity.Profile, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, profile := range f.store.profiles {
		if profile.CredentialID == credentialID {
			return copyProfile(profile), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeProfiles) MarkEmailVerified(ctx context.Context, credentialID uuid.UUID) error {
	return f.MarkEmailVerifiedTx(ctx, nil, credentialID)
}

func (f *fakeProfiles) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, credentialID uuid.UUID) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, profile := range f.store.profiles {
		if profile.CredentialID == credentialID {
			profile.EmailVerified = true
			return nil
		}
	}
	return repository.NewRecordNotFound()
}

func (f *fakeProfiles) SetApprovalStatus(ctx context.Context, id uuid.UUID, status identity.ApprovalStatus) (*identity.Profile, error) {
	return f.SetApprovalStatusTx(ctx, nil, id, status)
}

func (f *fakeProfiles) SetApprovalStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status identity.ApprovalStatus) (*identity.Profile, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	profile, ok := f.store.profiles[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	profile.ApprovalStatus = status
	return copyProfile(profile), nil
}

func (f *fakeProfiles) AdminEmails(ctx context.Context) ([]string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	var emails []string
	for _, profile := range f.store.profiles {
		if profile.Role != identity.RoleAdmin {
			continue
		}
		if cred, ok := f.store.credentials[profile.CredentialID]; ok {
			emails = append(emails, cred.Email)
		}
	}
	return emails, nil
}

// approveByEmail flips the approval status directly in the store, playing
// the part of the external admin workflow.
func (f *fakeRepos) approveByEmail(email string) bool {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, cred := range f.store.credentials {
		if cred.Email != email {
			continue
		}
		for _, profile := range f.store.profiles {
			if profile.CredentialID == cred.ID {
				profile.ApprovalStatus = identity.ApprovalActive
				return true
			}
		}
	}
	return false
}

func (f *fakeRepos) credentialByEmail(email string) *identity.Credential {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, cred := range f.store.credentials {
		if cred.Email == email {
			return copyCredential(cred)
		}
	}
	return nil
}
