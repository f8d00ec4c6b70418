package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"accountd/internal/token"
)

var (
	// ErrUnauthenticated covers both absent and expired sessions so callers
	// cannot distinguish the two cases.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is the store-level miss; the manager maps it to
	// ErrUnauthenticated before it reaches a caller.
	ErrNotFound = errors.New("session not found")
)

// Store persists sessions.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// Manager issues, validates and revokes session tokens. Policy: a single
// active session set per user — creating a session deletes all prior
// sessions for that user.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Create issues a fresh session for the user, superseding any prior ones.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID) (*Session, error) {
	if err := m.store.DeleteByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to delete prior sessions: %w", err)
	}

	tok, err := token.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     tok,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}

	if err := m.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return s, nil
}

// Validate resolves a token to its session. Expiry is checked lazily here;
// expired rows are not deleted on access.
func (m *Manager) Validate(ctx context.Context, tok string) (*Session, error) {
	s, err := m.store.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if s.Expired(time.Now()) {
		return nil, ErrUnauthenticated
	}

	return s, nil
}

// Revoke deletes the session row. Revoking an already-gone token is not an
// error.
func (m *Manager) Revoke(ctx context.Context, tok string) error {
	if err := m.store.DeleteByToken(ctx, tok); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAll deletes every session owned by the user.
func (m *Manager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := m.store.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return nil
}
