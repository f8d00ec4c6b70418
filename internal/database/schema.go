package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the application tables if they do not exist.
// Sessions and verification artifacts cascade-delete with their owning user.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().
		Model((*User)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*Session)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*VerificationArtifact)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create verification_artifacts table: %w", err)
	}

	// One active artifact per secret value within a kind.
	if _, err := db.NewCreateIndex().
		Model((*VerificationArtifact)(nil)).
		Index("verification_artifacts_value_kind_idx").
		Unique().
		IfNotExists().
		Column("value", "kind").
		Exec(ctx); err != nil {
		return fmt.Errorf("create artifact value index: %w", err)
	}

	return nil
}
