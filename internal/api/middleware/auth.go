package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/tasktrack/internal/api/shared"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/service/auth"
)

// AuthMiddleware provides JWT authentication for routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
	logger     *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger.With(slog.String("component", "auth_middleware")),
	}
}

// Authenticate validates the bearer token from the Authorization header and
// adds the caller's domain.Principal to the request context. Every failure
// is answered with 401.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContextOrDefault(r.Context(), m.logger)
		r = r.WithContext(logger.WithLogger(r.Context(), log))

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Token expired", err)
			} else {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
					shared.WithElevatedLogLevel())
			}
			return
		}

		principal := claims.Principal()
		ctx := shared.WithPrincipal(r.Context(), principal)
		ctx = logger.WithLogger(ctx, log.With(slog.String("user_id", principal.UserID.String())))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the authenticated caller from the request context.
func GetPrincipal(r *http.Request) (domain.Principal, bool) {
	return shared.PrincipalFromContext(r.Context())
}
