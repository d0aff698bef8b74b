package auth

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/stretchr/testify/require"
)

// TestJWTSecret is a secret long enough to pass configuration validation.
const TestJWTSecret = "test-jwt-secret-that-is-32-chars-long"

// NewTestJWTService creates a JWT service with an injectable clock for testing.
func NewTestJWTService(secret string, lifetime time.Duration, now func() time.Time) JWTService {
	if now == nil {
		now = time.Now
	}
	return newHMACJWTService(secret, lifetime, now)
}

// AuthHeaderForTesting returns an Authorization header value carrying a
// valid token for principal, signed with TestJWTSecret.
func AuthHeaderForTesting(t *testing.T, principal domain.Principal) string {
	t.Helper()

	svc := NewTestJWTService(TestJWTSecret, DefaultTokenLifetime, nil)
	token, err := svc.GenerateToken(context.Background(), principal)
	require.NoError(t, err, "Failed to generate auth token")
	return "Bearer " + token
}
