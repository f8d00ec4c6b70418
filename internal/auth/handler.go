package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"accountd/internal/httputil"
	"accountd/internal/logging"
	"accountd/internal/user"
)

// Handler contains the HTTP handlers for the /auth routes.
type Handler struct {
	service      *Service
	isProduction bool
	sessionTTL   time.Duration
}

func NewHandler(service *Service, isProduction bool, sessionTTL time.Duration) *Handler {
	return &Handler{
		service:      service,
		isProduction: isProduction,
		sessionTTL:   sessionTTL,
	}
}

// SignUpRequest is the signup request body
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInRequest is the signin request body
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyEmailRequest is the email verification request body
type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendVerificationRequest is the resend verification request body
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordRequest is the password reset request body
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the password reset confirmation body
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// UserResponse is a user in API responses
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
}

// AuthResponse carries the user and their session token
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// NeedsVerificationResponse signals signin on an unverified account
type NeedsVerificationResponse struct {
	NeedsVerification bool `json:"needsVerification"`
}

func toUserResponse(u *user.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified}
}

// SignUp handles POST /auth/signup: creates the account, sends the
// verification code and sets the session cookie.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signup request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			logger.Warn("signup failed: email already exists")
			httputil.RespondError(w, "email already exists", http.StatusConflict)
			return
		}
		if isValidationError(err) {
			logger.Warn("signup failed: validation error", "error", err.Error())
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("signup failed: internal error", "error", err.Error())
		httputil.RespondError(w, "failed to sign up", http.StatusInternalServerError)
		return
	}

	logger.Info("user signed up", "user_id", result.User.ID)

	SetSessionCookie(w, result.Session.Token, h.isProduction, h.sessionTTL)
	httputil.RespondJSON(w, AuthResponse{
		User:  toUserResponse(result.User),
		Token: result.Session.Token,
	}, http.StatusCreated)
}

// SignIn handles POST /auth/signin. An unverified account gets
// {needsVerification: true} and no cookie.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signin request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("signin failed: invalid credentials")
			httputil.RespondError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		logger.Error("signin failed: internal error", "error", err.Error())
		httputil.RespondError(w, "failed to sign in", http.StatusInternalServerError)
		return
	}

	if result.NeedsVerification {
		logger.Info("signin pending verification")
		httputil.RespondJSON(w, NeedsVerificationResponse{NeedsVerification: true}, http.StatusOK)
		return
	}

	logger.Info("user signed in", "user_id", result.User.ID)

	SetSessionCookie(w, result.Session.Token, h.isProduction, h.sessionTTL)
	httputil.RespondJSON(w, AuthResponse{
		User:  toUserResponse(result.User),
		Token: result.Session.Token,
	}, http.StatusOK)
}

// SignOut handles POST /auth/signout: deletes the session server-side and
// clears the cookie. Succeeds with or without a live session.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if tok, err := GetSessionTokenFromCookie(r); err == nil && tok != "" {
		if err := h.service.SignOut(r.Context(), tok); err != nil {
			logger.Warn("failed to revoke session", "error", err.Error())
			// Still clear the cookie.
		}
	}

	ClearSessionCookie(w, h.isProduction)

	logger.Info("user signed out")
	httputil.RespondJSON(w, map[string]string{"message": "signed out"}, http.StatusOK)
}

// VerifyEmail handles POST /auth/verify-email with {email, code}.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid verify email request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeExpired):
			logger.Warn("email verification failed: code expired")
			httputil.RespondError(w, "verification code has expired, please request a new one", http.StatusBadRequest)
		case errors.Is(err, ErrAlreadyVerified):
			logger.Warn("email verification failed: already verified")
			httputil.RespondError(w, "email is already verified", http.StatusBadRequest)
		case errors.Is(err, ErrCodeNotFound):
			logger.Warn("email verification failed: invalid code")
			httputil.RespondError(w, "invalid verification code", http.StatusBadRequest)
		default:
			logger.Error("email verification failed: internal error", "error", err.Error())
			httputil.RespondError(w, "failed to verify email", http.StatusInternalServerError)
		}
		return
	}

	logger.Info("email verified")
	httputil.RespondJSON(w, map[string]string{"message": "email verified successfully"}, http.StatusOK)
}

// ResendVerification handles POST /auth/resend-verification. Always answers
// 200 so the endpoint reveals nothing about account state.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend verification request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		// AlreadyVerified included: the response stays identical.
		logger.Warn("resend verification not performed", "error", err.Error())
	}

	httputil.RespondJSON(w, map[string]string{
		"message": "If your email is registered and not verified, a new verification code has been sent.",
	}, http.StatusOK)
}

// ForgotPassword handles POST /auth/forgot-password. The response is
// byte-identical whether or not the account exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	httputil.RespondJSON(w, map[string]string{
		"message": "If an account exists with that email, a password reset link has been sent.",
	}, http.StatusOK)
}

// ResetPassword handles POST /auth/reset-password with {token, newPassword}.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrResetTokenExpired):
			logger.Warn("password reset failed: token expired")
			httputil.RespondError(w, "reset token has expired", http.StatusBadRequest)
		case errors.Is(err, ErrInvalidResetToken):
			logger.Warn("password reset failed: invalid token")
			httputil.RespondError(w, "invalid reset token", http.StatusBadRequest)
		case isValidationError(err):
			logger.Warn("password reset failed: validation error", "error", err.Error())
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("password reset failed: internal error", "error", err.Error())
			httputil.RespondError(w, "failed to reset password", http.StatusInternalServerError)
		}
		return
	}

	logger.Info("password reset")
	httputil.RespondJSON(w, map[string]string{
		"message": "Password reset successfully. You can now sign in with your new password.",
	}, http.StatusOK)
}

// Session handles GET /auth/session behind RequireSession: it answers with
// the authenticated user.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	httputil.RespondJSON(w, map[string]UserResponse{"user": toUserResponse(u)}, http.StatusOK)
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrEmailRequired) ||
		errors.Is(err, ErrInvalidEmailFormat) ||
		errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrPasswordTooShort)
}
