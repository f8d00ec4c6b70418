package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Artifact kinds. A verification code must never satisfy a password reset
// consumption and vice versa, so the kind is part of every artifact lookup.
const (
	KindEmailVerification = "email_verification"
	KindPasswordReset     = "password_reset"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email         string    `bun:"email,notnull,unique"`
	PasswordHash  string    `bun:"password_hash,notnull"`
	EmailVerified bool      `bun:"email_verified,notnull,default:false"`
	CreatedAt     time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Token     string    `bun:"token,notnull,unique"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// VerificationArtifact is a single-use, time-bounded secret owned by one
// user: a 6-digit email verification code or a password reset token.
type VerificationArtifact struct {
	bun.BaseModel `bun:"table:verification_artifacts,alias:va"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Value     string    `bun:"value,notnull"`
	Kind      string    `bun:"kind,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}
