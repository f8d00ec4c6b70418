package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/internal/config"
	"accountd/internal/database"
	"accountd/internal/logging"
	"accountd/internal/session"
	"accountd/internal/user"
)

// --- fakes ---

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*user.User)}
}

func (f *fakeUserStore) Create(_ context.Context, email, passwordHash string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return nil, user.ErrDuplicateEmail
		}
	}
	now := time.Now()
	u := &user.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) markVerified(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.EmailVerified = true
	}
}

func (f *fakeUserStore) setPassword(id uuid.UUID, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.PasswordHash = hash
	}
}

type fakeArtifact struct {
	userID    uuid.UUID
	value     string
	kind      string
	expiresAt time.Time
}

// fakeArtifactStore mirrors the transactional semantics of the bun Store:
// consumption deletes the artifact and applies the effect as one step.
type fakeArtifactStore struct {
	mu        sync.Mutex
	artifacts []fakeArtifact
	users     *fakeUserStore
}

func newFakeArtifactStore(users *fakeUserStore) *fakeArtifactStore {
	return &fakeArtifactStore{users: users}
}

func (f *fakeArtifactStore) Save(_ context.Context, userID uuid.UUID, value, kind string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.artifacts[:0]
	for _, a := range f.artifacts {
		if !(a.userID == userID && a.kind == kind) {
			kept = append(kept, a)
		}
	}
	f.artifacts = append(kept, fakeArtifact{userID: userID, value: value, kind: kind, expiresAt: expiresAt})
	return nil
}

func (f *fakeArtifactStore) take(match func(fakeArtifact) bool) (fakeArtifact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.artifacts {
		if match(a) {
			f.artifacts = append(f.artifacts[:i], f.artifacts[i+1:]...)
			return a, true
		}
	}
	return fakeArtifact{}, false
}

func (f *fakeArtifactStore) ConsumeVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	a, ok := f.take(func(a fakeArtifact) bool {
		return a.userID == userID && a.value == code && a.kind == database.KindEmailVerification
	})
	if !ok {
		if u, err := f.users.GetByID(ctx, userID); err == nil && u.EmailVerified {
			return ErrAlreadyVerified
		}
		return ErrCodeNotFound
	}
	if time.Now().After(a.expiresAt) {
		return ErrCodeExpired
	}
	u, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}
	f.users.markVerified(userID)
	return nil
}

func (f *fakeArtifactStore) ConsumeResetToken(_ context.Context, tok, newPasswordHash string) (uuid.UUID, error) {
	a, ok := f.take(func(a fakeArtifact) bool {
		return a.value == tok && a.kind == database.KindPasswordReset
	})
	if !ok {
		return uuid.Nil, ErrInvalidResetToken
	}
	if time.Now().After(a.expiresAt) {
		return uuid.Nil, ErrResetTokenExpired
	}
	f.users.setPassword(a.userID, newPasswordHash)
	return a.userID, nil
}

// pending returns the live artifact of the given kind for a user, if any.
func (f *fakeArtifactStore) pending(userID uuid.UUID, kind string) (fakeArtifact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.artifacts {
		if a.userID == userID && a.kind == kind {
			return a, true
		}
	}
	return fakeArtifact{}, false
}

func (f *fakeArtifactStore) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.artifacts {
		f.artifacts[i].expiresAt = time.Now().Add(-time.Minute)
	}
}

type fakeMailer struct {
	mu     sync.Mutex
	codes  []string
	tokens []string
}

func (f *fakeMailer) SendVerificationEmail(_ context.Context, _, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeMailer) SendPasswordResetEmail(_ context.Context, _, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, tok)
	return nil
}

func (f *fakeMailer) sentCodes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*session.Session)}
}

func (f *fakeSessionStore) Insert(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.Token] = &cp
	return nil
}

func (f *fakeSessionStore) GetByToken(_ context.Context, token string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) DeleteByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionStore) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, tok)
		}
	}
	return nil
}

func (f *fakeSessionStore) count(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// --- fixture ---

type fixture struct {
	service   *Service
	users     *fakeUserStore
	artifacts *fakeArtifactStore
	sessions  *fakeSessionStore
	mailer    *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := newFakeUserStore()
	artifacts := newFakeArtifactStore(users)
	sessionStore := newFakeSessionStore()
	mailer := &fakeMailer{}

	cfg := config.AuthConfig{
		SessionTTL:          30 * 24 * time.Hour,
		VerificationCodeTTL: 24 * time.Hour,
		ResetTokenTTL:       time.Hour,
		BcryptCost:          4, // min cost keeps tests fast
	}

	svc := NewService(
		users,
		artifacts,
		session.NewManager(sessionStore, cfg.SessionTTL),
		mailer,
		logging.NewLogger(true),
		cfg,
	)

	return &fixture{
		service:   svc,
		users:     users,
		artifacts: artifacts,
		sessions:  sessionStore,
		mailer:    mailer,
	}
}

// --- tests ---

func TestSignUp(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", result.User.Email)
	assert.False(t, result.User.EmailVerified)
	assert.NotEqual(t, "password1", result.User.PasswordHash, "password must never be stored in plaintext")
	assert.True(t, strings.HasPrefix(result.User.PasswordHash, "$2"), "expected a bcrypt hash")
	require.NotNil(t, result.Session, "signup opens a session right away")

	code, ok := fx.artifacts.pending(result.User.ID, database.KindEmailVerification)
	require.True(t, ok, "signup must issue a verification code")
	assert.Len(t, code.value, 6)

	assert.Eventually(t, func() bool { return fx.mailer.sentCodes() == 1 },
		time.Second, 10*time.Millisecond, "verification email should be sent")
}

func TestSignUpDuplicateEmail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	_, err = fx.service.SignUp(ctx, "a@x.com", "different1")
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)
}

func TestSignUpValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"missing email", "", "password1", ErrEmailRequired},
		{"malformed email", "not-an-email", "password1", ErrInvalidEmailFormat},
		{"missing password", "a@x.com", "", ErrPasswordRequired},
		{"short password", "a@x.com", "short", ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.SignUp(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignUpEmailCaseSensitive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	// Case-sensitive matching: a differently cased address is a new account.
	_, err = fx.service.SignUp(ctx, "A@x.com", "password1")
	assert.NoError(t, err)
}

func TestSignInInvalidCredentials(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	_, errUnknown := fx.service.SignIn(ctx, "b@x.com", "password1")
	_, errWrongPass := fx.service.SignIn(ctx, "a@x.com", "wrongpass1")

	// Unknown account and wrong password are indistinguishable.
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPass, ErrInvalidCredentials)
	assert.Equal(t, errUnknown, errWrongPass)
}

func TestSignInUnverified(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	result, err := fx.service.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	assert.True(t, result.NeedsVerification)
	assert.Nil(t, result.Session, "unverified signin must not open a session")
}

func TestSignInSingleActiveSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	fx.users.markVerified(signup.User.ID)

	first, err := fx.service.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	second, err := fx.service.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	assert.Equal(t, 1, fx.sessions.count(signup.User.ID), "a new login supersedes prior sessions")
	assert.NotEqual(t, first.Session.Token, second.Session.Token)
}

func TestVerifyEmailFlow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)
	userID := signup.User.ID

	artifact, ok := fx.artifacts.pending(userID, database.KindEmailVerification)
	require.True(t, ok)

	// Wrong code fails and leaves the artifact alone.
	wrong := "000000"
	if artifact.value == wrong {
		wrong = "000001"
	}
	err = fx.service.VerifyEmail(ctx, "a@x.com", wrong)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// Correct code flips the flag and destroys the artifact.
	err = fx.service.VerifyEmail(ctx, "a@x.com", artifact.value)
	require.NoError(t, err)

	u, err := fx.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)

	_, stillThere := fx.artifacts.pending(userID, database.KindEmailVerification)
	assert.False(t, stillThere, "consumed code row must be gone")

	// Second consumption never double-applies.
	err = fx.service.VerifyEmail(ctx, "a@x.com", artifact.value)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)

	artifact, ok := fx.artifacts.pending(signup.User.ID, database.KindEmailVerification)
	require.True(t, ok)

	fx.artifacts.expireAll()

	err = fx.service.VerifyEmail(ctx, "a@x.com", artifact.value)
	assert.ErrorIs(t, err, ErrCodeExpired)

	// The stale code is gone for good; retrying fails differently but fails.
	err = fx.service.VerifyEmail(ctx, "a@x.com", artifact.value)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	u, err := fx.users.GetByID(ctx, signup.User.ID)
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
}

func TestVerifyEmailUnknownAccount(t *testing.T) {
	fx := newFixture(t)

	err := fx.service.VerifyEmail(context.Background(), "ghost@x.com", "123456")
	assert.ErrorIs(t, err, ErrCodeNotFound, "unknown accounts look like a bad code")
}

func TestRequestVerificationReplacesPendingCode(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)
	userID := signup.User.ID

	first, ok := fx.artifacts.pending(userID, database.KindEmailVerification)
	require.True(t, ok)

	require.NoError(t, fx.service.RequestVerification(ctx, userID))

	err = fx.service.VerifyEmail(ctx, "a@x.com", first.value)
	assert.ErrorIs(t, err, ErrCodeNotFound, "a reissued code invalidates the prior one")
}

func TestRequestVerificationAlreadyVerified(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)
	fx.users.markVerified(signup.User.ID)

	err = fx.service.RequestVerification(ctx, signup.User.ID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResendVerificationUnknownEmail(t *testing.T) {
	fx := newFixture(t)

	err := fx.service.ResendVerification(context.Background(), "ghost@x.com")
	assert.NoError(t, err, "missing accounts are not an error on the resend path")
	assert.Equal(t, 0, fx.mailer.sentCodes())
}

func TestPasswordResetFlow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "oldpass11")
	require.NoError(t, err)
	fx.users.markVerified(signup.User.ID)

	signin, err := fx.service.SignIn(ctx, "a@x.com", "oldpass11")
	require.NoError(t, err)
	require.NotNil(t, signin.Session)

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "a@x.com"))

	artifact, ok := fx.artifacts.pending(signup.User.ID, database.KindPasswordReset)
	require.True(t, ok, "reset request must persist a token")

	require.NoError(t, fx.service.ResetPassword(ctx, artifact.value, "newpass11"))

	// Old password no longer works, the new one does.
	_, err = fx.service.SignIn(ctx, "a@x.com", "oldpass11")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = fx.service.SignIn(ctx, "a@x.com", "newpass11")
	assert.NoError(t, err)

	// Consumed token cannot be replayed.
	err = fx.service.ResetPassword(ctx, artifact.value, "anotherpass1")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "oldpass11")
	require.NoError(t, err)
	fx.users.markVerified(signup.User.ID)

	signin, err := fx.service.SignIn(ctx, "a@x.com", "oldpass11")
	require.NoError(t, err)

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "a@x.com"))
	artifact, _ := fx.artifacts.pending(signup.User.ID, database.KindPasswordReset)

	require.NoError(t, fx.service.ResetPassword(ctx, artifact.value, "newpass11"))

	assert.Equal(t, 0, fx.sessions.count(signup.User.ID), "password reset revokes every session")
	_ = signin
}

func TestPasswordResetExpiredToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "oldpass11")
	require.NoError(t, err)

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "a@x.com"))
	artifact, _ := fx.artifacts.pending(signup.User.ID, database.KindPasswordReset)

	fx.artifacts.expireAll()

	err = fx.service.ResetPassword(ctx, artifact.value, "newpass11")
	assert.ErrorIs(t, err, ErrResetTokenExpired)

	// The expired token is deleted as a side effect; a retry fails as invalid.
	err = fx.service.ResetPassword(ctx, artifact.value, "newpass11")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	fx := newFixture(t)

	err := fx.service.RequestPasswordReset(context.Background(), "ghost@x.com")
	assert.NoError(t, err, "reset requests never reveal account existence")
}

func TestArtifactKindIsolation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)
	userID := signup.User.ID

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "a@x.com"))

	code, ok := fx.artifacts.pending(userID, database.KindEmailVerification)
	require.True(t, ok)
	reset, ok := fx.artifacts.pending(userID, database.KindPasswordReset)
	require.True(t, ok)

	// A reset token never satisfies a verification consumption.
	err = fx.service.VerifyEmail(ctx, "a@x.com", reset.value)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// And a verification code never satisfies a reset consumption.
	err = fx.service.ResetPassword(ctx, code.value, "newpass11")
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	// Both artifacts survive the cross-kind attempts.
	_, ok = fx.artifacts.pending(userID, database.KindEmailVerification)
	assert.True(t, ok)
	_, ok = fx.artifacts.pending(userID, database.KindPasswordReset)
	assert.True(t, ok)
}

func TestSignOut(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	signup, err := fx.service.SignUp(ctx, "a@x.com", "p1p1p1p1")
	require.NoError(t, err)

	require.NoError(t, fx.service.SignOut(ctx, signup.Session.Token))
	assert.Equal(t, 0, fx.sessions.count(signup.User.ID))

	// Idempotent.
	require.NoError(t, fx.service.SignOut(ctx, signup.Session.Token))
}
