// Package auth provides bearer token issuance and validation for the
// admin API. Tokens are HMAC-SHA256 signed JWTs derived from a single
// static secret; there are no user accounts, a token simply names the
// client it was issued to.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenService defines operations for managing API bearer tokens.
type TokenService interface {
	// IssueToken creates a signed token for the named client.
	IssueToken(ctx context.Context, subject string) (string, error)

	// ValidateToken validates the provided token string and extracts the
	// claims, or returns an error if validation fails (expired, invalid
	// signature, malformed).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of a bearer token.
type Claims struct {
	// Subject names the client the token was issued to.
	Subject string `json:"sub,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`

	// ID is the unique token identifier.
	ID uuid.UUID `json:"jti,omitempty"`
}
