package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
)

// JWTService verifies bearer tokens. Tokens are issued by an external
// identity provider sharing the HMAC secret; GenerateToken exists for
// local development and tests.
type JWTService interface {
	// GenerateToken creates a signed JWT access token for the principal.
	GenerateToken(ctx context.Context, principal domain.Principal) (string, error)

	// ValidateToken validates the provided access token string and extracts the claims.
	// Returns the claims containing user information if the token is valid,
	// or an error if validation fails (expired, invalid signature, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the custom claims structure for the JWT tokens.
// It extends standard JWT registered claims with application-specific fields.
type Claims struct {
	// UserID is the unique identifier of the user the token was issued for.
	UserID uuid.UUID `json:"uid,omitempty"`

	// Admin grants access to every task and to the admin endpoints.
	Admin bool `json:"admin,omitempty"`

	// Standard registered JWT claims
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}

// Principal converts the claims into the caller identity used by services.
func (c *Claims) Principal() domain.Principal {
	return domain.Principal{UserID: c.UserID, IsAdmin: c.Admin}
}
