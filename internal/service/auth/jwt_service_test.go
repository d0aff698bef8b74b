package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/config"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: TestJWTSecret})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tokenLifetime := 60 * time.Minute
	secret := "test-secret-that-is-long-enough-for-testing"

	svc := NewTestJWTService(secret, tokenLifetime, func() time.Time {
		return fixedTime
	})

	principals := map[string]domain.Principal{
		"regular user": {UserID: uuid.New()},
		"admin":        {UserID: uuid.New(), IsAdmin: true},
	}

	for name, p := range principals {
		p := p
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			token, err := svc.GenerateToken(context.Background(), p)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := svc.ValidateToken(context.Background(), token)
			require.NoError(t, err)

			assert.Equal(t, p, claims.Principal())
			assert.Equal(t, p.UserID.String(), claims.Subject)
			assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
			assert.Equal(t, fixedTime.Add(tokenLifetime).Unix(), claims.ExpiresAt.Unix())
			assert.NotEmpty(t, claims.ID)
		})
	}
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tokenLifetime := 60 * time.Minute
	secret := "test-secret-that-is-long-enough-for-testing"
	wrongSecret := "wrong-secret-that-is-long-enough-for-testing"
	principal := domain.Principal{UserID: uuid.New()}

	fixedClock := func() time.Time { return fixedTime }

	// externally issued token signed with the shared secret
	externalToken := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name      string
		setupFunc func() (JWTService, string)
		wantErr   error
	}{
		{
			name: "valid token",
			setupFunc: func() (JWTService, string) {
				svc := NewTestJWTService(secret, tokenLifetime, fixedClock)
				token, _ := svc.GenerateToken(context.Background(), principal)
				return svc, token
			},
		},
		{
			name: "expired token",
			setupFunc: func() (JWTService, string) {
				genSvc := NewTestJWTService(secret, tokenLifetime, fixedClock)
				token, _ := genSvc.GenerateToken(context.Background(), principal)

				// Validate token at a later time (after expiry)
				valSvc := NewTestJWTService(secret, tokenLifetime, func() time.Time {
					return fixedTime.Add(tokenLifetime + time.Hour)
				})
				return valSvc, token
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "not yet valid",
			setupFunc: func() (JWTService, string) {
				token := externalToken(jwtCustomClaims{
					UserID: principal.UserID,
					RegisteredClaims: jwt.RegisteredClaims{
						NotBefore: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
					},
				}, jwt.SigningMethodHS256, []byte(secret))
				return NewTestJWTService(secret, tokenLifetime, fixedClock), token
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name: "invalid signature",
			setupFunc: func() (JWTService, string) {
				genSvc := NewTestJWTService(secret, tokenLifetime, fixedClock)
				token, _ := genSvc.GenerateToken(context.Background(), principal)
				return NewTestJWTService(wrongSecret, tokenLifetime, fixedClock), token
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong signing method",
			setupFunc: func() (JWTService, string) {
				token := externalToken(jwtCustomClaims{UserID: principal.UserID},
					jwt.SigningMethodHS512, []byte(secret))
				return NewTestJWTService(secret, tokenLifetime, fixedClock), token
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing uid claim",
			setupFunc: func() (JWTService, string) {
				token := externalToken(jwt.RegisteredClaims{Subject: "someone"},
					jwt.SigningMethodHS256, []byte(secret))
				return NewTestJWTService(secret, tokenLifetime, fixedClock), token
			},
			wantErr: ErrMissingSubject,
		},
		{
			name: "malformed token",
			setupFunc: func() (JWTService, string) {
				return NewTestJWTService(secret, tokenLifetime, fixedClock), "this.is.not.a.valid.jwt.token"
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "empty token",
			setupFunc: func() (JWTService, string) {
				return NewTestJWTService(secret, tokenLifetime, fixedClock), ""
			},
			wantErr: ErrMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, token := tt.setupFunc()
			claims, err := svc.ValidateToken(context.Background(), token)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, principal.UserID, claims.UserID)
			assert.False(t, claims.Admin)
		})
	}
}
