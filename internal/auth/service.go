package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"accountd/internal/config"
	"accountd/internal/database"
	"accountd/internal/logging"
	"accountd/internal/session"
	"accountd/internal/token"
	"accountd/internal/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrAlreadyVerified    = errors.New("email is already verified")
	ErrCodeNotFound       = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code has expired")
	ErrInvalidResetToken  = errors.New("invalid reset token")
	ErrResetTokenExpired  = errors.New("reset token has expired")
)

// UserStore is the credential store surface the workflows need.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// ArtifactStore persists single-use verification artifacts. Consumption is
// atomic at the persistence boundary: of two concurrent consumers of the same
// artifact at most one succeeds, and the applied effect commits together with
// the artifact deletion.
type ArtifactStore interface {
	Save(ctx context.Context, userID uuid.UUID, value, kind string, expiresAt time.Time) error
	ConsumeVerificationCode(ctx context.Context, userID uuid.UUID, code string) error
	ConsumeResetToken(ctx context.Context, tok, newPasswordHash string) (uuid.UUID, error)
}

// Mailer delivers verification codes and reset links. Delivery failure is
// recoverable: the persisted artifact stays valid and can be resent.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, toEmail, code string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, tok string) error
}

// Service orchestrates the credential/session lifecycle: signup, signin,
// signout, email verification and password reset.
type Service struct {
	users     UserStore
	artifacts ArtifactStore
	sessions  *session.Manager
	mailer    Mailer
	logger    *logging.Logger
	cfg       config.AuthConfig
}

func NewService(
	users UserStore,
	artifacts ArtifactStore,
	sessions *session.Manager,
	mailer Mailer,
	logger *logging.Logger,
	cfg config.AuthConfig,
) *Service {
	return &Service{
		users:     users,
		artifacts: artifacts,
		sessions:  sessions,
		mailer:    mailer,
		logger:    logger,
		cfg:       cfg,
	}
}

// SignUpResult carries the new user and their first session.
type SignUpResult struct {
	User    *user.User
	Session *session.Session
}

// SignUp creates an account, triggers verification delivery and opens a
// session right away (the verified flag gates signin, not signup).
func (s *Service) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, email, passwordHash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, user.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.issueVerification(ctx, newUser); err != nil {
		// The account exists; the resend path recovers from this.
		s.logger.Warn("failed to issue verification code on signup", "email", email, "error", err)
	}

	sess, err := s.sessions.Create(ctx, newUser.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignUpResult{User: newUser, Session: sess}, nil
}

// SignInResult is either a session or a needs-verification marker.
type SignInResult struct {
	User              *user.User
	Session           *session.Session
	NeedsVerification bool
}

// SignIn authenticates credentials. Unknown email and wrong password are
// deliberately indistinguishable. An unverified user gets no session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(existingUser.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if !existingUser.EmailVerified {
		return &SignInResult{User: existingUser, NeedsVerification: true}, nil
	}

	sess, err := s.sessions.Create(ctx, existingUser.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignInResult{User: existingUser, Session: sess}, nil
}

// SignOut revokes the session token. Idempotent.
func (s *Service) SignOut(ctx context.Context, tok string) error {
	return s.sessions.Revoke(ctx, tok)
}

// RequestVerification issues a fresh verification code for the user and hands
// it to the mail collaborator. Fails with ErrAlreadyVerified when the flag is
// already set.
func (s *Service) RequestVerification(ctx context.Context, userID uuid.UUID) error {
	existingUser, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	return s.issueVerification(ctx, existingUser)
}

// ResendVerification is the email-addressed resend path. A missing account is
// not an error so the endpoint stays enumeration-safe.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		s.logger.Warn("failed to get user for resend verification", "error", err)
		return nil
	}
	return s.issueVerification(ctx, existingUser)
}

// issueVerification replaces any pending code for the user with a fresh one
// and sends it asynchronously. A delivery failure leaves the code valid.
func (s *Service) issueVerification(ctx context.Context, u *user.User) error {
	if u.EmailVerified {
		return ErrAlreadyVerified
	}

	code, err := token.NewVerificationCode()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.VerificationCodeTTL)
	if err := s.artifacts.Save(ctx, u.ID, code, database.KindEmailVerification, expiresAt); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	email := u.Email
	go func() {
		emailCtx := context.Background()
		if err := s.mailer.SendVerificationEmail(emailCtx, email, code); err != nil {
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()

	return nil
}

// VerifyEmail consumes a verification code exactly once: the code row is
// deleted and the verified flag set in the same transaction.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	if email == "" || code == "" {
		return ErrCodeNotFound
	}

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Indistinguishable from a bad code; no account enumeration here.
			return ErrCodeNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	return s.artifacts.ConsumeVerificationCode(ctx, existingUser.ID, code)
}

// RequestPasswordReset always succeeds from the caller's point of view.
// A token is issued and mailed only when the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		s.logger.Warn("failed to get user for password reset", "error", err)
		return nil
	}

	tok, err := token.NewResetToken()
	if err != nil {
		s.logger.Warn("failed to generate password reset token", "error", err)
		return nil
	}

	expiresAt := time.Now().Add(s.cfg.ResetTokenTTL)
	if err := s.artifacts.Save(ctx, existingUser.ID, tok, database.KindPasswordReset, expiresAt); err != nil {
		s.logger.Warn("failed to store password reset token", "error", err)
		return nil
	}

	go func() {
		emailCtx := context.Background()
		if err := s.mailer.SendPasswordResetEmail(emailCtx, email, tok); err != nil {
			s.logger.Warn("failed to send password reset email", "email", email, "error", err)
		}
	}()

	return nil
}

// ResetPassword consumes a reset token exactly once, overwriting the password
// hash in the same transaction, then revokes every session for the user.
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string) error {
	if tok == "" {
		return ErrInvalidResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := s.hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	userID, err := s.artifacts.ConsumeResetToken(ctx, tok, passwordHash)
	if err != nil {
		return err
	}

	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", "user_id", userID, "error", err)
	}

	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > 254 {
		return ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmailFormat
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}
