package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"accountd/internal/database"
	"accountd/internal/user"
)

// Store is the Postgres-backed ArtifactStore. Consumption runs as a single
// transaction around an atomic conditional DELETE ... RETURNING, so two
// concurrent consumers of one artifact can never both succeed, even across
// process instances.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Save persists an artifact, replacing any pending artifact of the same kind
// for the user.
func (s *Store) Save(ctx context.Context, userID uuid.UUID, value, kind string, expiresAt time.Time) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*database.VerificationArtifact)(nil)).
			Where("user_id = ?", userID).
			Where("kind = ?", kind).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear pending artifacts: %w", err)
		}

		artifact := &database.VerificationArtifact{
			UserID:    userID,
			Value:     value,
			Kind:      kind,
			ExpiresAt: expiresAt,
		}
		if _, err := tx.NewInsert().Model(artifact).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert artifact: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

// ConsumeVerificationCode deletes the matching code and sets the user's
// verified flag in one transaction: both happen or neither. An expired code
// is deleted as a side effect and stays permanently unusable.
func (s *Store) ConsumeVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	var outcome error

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := user.NewRepository(tx)

		artifact := new(database.VerificationArtifact)
		err := tx.NewDelete().
			Model(artifact).
			Where("user_id = ?", userID).
			Where("value = ?", code).
			Where("kind = ?", database.KindEmailVerification).
			Returning("*").
			Scan(ctx)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// No matching artifact. A consumed code on a verified account
				// reports AlreadyVerified rather than NotFound.
				u, uerr := users.GetByID(ctx, userID)
				if uerr == nil && u.EmailVerified {
					outcome = ErrAlreadyVerified
					return nil
				}
				outcome = ErrCodeNotFound
				return nil
			}
			return fmt.Errorf("failed to consume verification code: %w", err)
		}

		if time.Now().After(artifact.ExpiresAt) {
			// Keep the delete: the stale code must not satisfy a retry.
			outcome = ErrCodeExpired
			return nil
		}

		u, err := users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if u.EmailVerified {
			outcome = ErrAlreadyVerified
			return nil
		}

		if err := users.MarkVerified(ctx, userID); err != nil {
			return fmt.Errorf("failed to mark verified: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return outcome
}

// ConsumeResetToken deletes the matching reset token and overwrites the
// password hash in one transaction. The kind check means a verification
// artifact can never satisfy a reset consumption.
func (s *Store) ConsumeResetToken(ctx context.Context, tok, newPasswordHash string) (uuid.UUID, error) {
	var (
		outcome error
		userID  uuid.UUID
	)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		artifact := new(database.VerificationArtifact)
		err := tx.NewDelete().
			Model(artifact).
			Where("value = ?", tok).
			Where("kind = ?", database.KindPasswordReset).
			Returning("*").
			Scan(ctx)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				outcome = ErrInvalidResetToken
				return nil
			}
			return fmt.Errorf("failed to consume reset token: %w", err)
		}

		if time.Now().After(artifact.ExpiresAt) {
			outcome = ErrResetTokenExpired
			return nil
		}

		users := user.NewRepository(tx)
		if err := users.UpdatePassword(ctx, artifact.UserID, newPasswordHash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		userID = artifact.UserID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if outcome != nil {
		return uuid.Nil, outcome
	}

	return userID, nil
}
