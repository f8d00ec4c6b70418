// Package token issues the opaque secrets that prove possession: session
// tokens, password reset tokens, and short verification codes. Every value
// comes from a cryptographically secure random source; expiry horizons are
// attached by the callers from configuration.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// tokenBytes gives 256 bits of entropy per session/reset token.
	tokenBytes = 32

	// codeDigits is fixed by the UI contract: users type the code by hand.
	// Expiry plus single-use keeps the small space acceptable.
	codeDigits = 6
)

var codeRange = big.NewInt(1_000_000)

// NewSessionToken returns a high-entropy opaque session token.
func NewSessionToken() (string, error) {
	return randomToken()
}

// NewResetToken returns a high-entropy password reset token, generated with
// the same discipline as session tokens.
func NewResetToken() (string, error) {
	return randomToken()
}

// NewVerificationCode returns a 6-digit code drawn uniformly from
// [000000, 999999], zero-padded for human entry.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
