package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"accountd/internal/database"
)

// Repository is the Postgres-backed session store.
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, s *Session) error {
	dbSession := &database.Session{
		ID:        s.ID,
		UserID:    s.UserID,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}

	_, err := r.db.NewInsert().
		Model(dbSession).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

func (r *Repository) GetByToken(ctx context.Context, token string) (*Session, error) {
	dbSession := new(database.Session)
	err := r.db.NewSelect().
		Model(dbSession).
		Where("token = ?", token).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}

	return &Session{
		ID:        dbSession.ID,
		UserID:    dbSession.UserID,
		Token:     dbSession.Token,
		ExpiresAt: dbSession.ExpiresAt,
		CreatedAt: dbSession.CreatedAt,
	}, nil
}

func (r *Repository) DeleteByToken(ctx context.Context, token string) error {
	// Idempotent: zero rows affected is fine.
	_, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (r *Repository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	return nil
}
