package auth

import (
	"context"
	"errors"
	"net/http"

	"accountd/internal/httputil"
	"accountd/internal/session"
	"accountd/internal/user"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const userContextKey ContextKey = "user"

// Middleware guards routes behind a valid session cookie.
type Middleware struct {
	sessions *session.Manager
	users    UserStore
}

func NewMiddleware(sessions *session.Manager, users UserStore) *Middleware {
	return &Middleware{sessions: sessions, users: users}
}

// RequireSession validates the session cookie and loads the owning user into
// the request context. Absent and expired sessions both answer 401.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := GetSessionTokenFromCookie(r)
		if err != nil || tok == "" {
			httputil.RespondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := m.sessions.Validate(r.Context(), tok)
		if err != nil {
			if errors.Is(err, session.ErrUnauthenticated) {
				httputil.RespondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			httputil.RespondError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		u, err := m.users.GetByID(r.Context(), sess.UserID)
		if err != nil {
			// A session without its user means the row cascade lost a race;
			// treat it as unauthenticated rather than leaking existence.
			httputil.RespondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
