package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated browsing session. The token is the single
// secret proving possession; it is presented back via cookie.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session has passed its expiry horizon.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
