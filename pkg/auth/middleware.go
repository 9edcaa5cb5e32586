package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Gin context keys set by RequireAuth.
const (
	ContextUsername = "username"
	ContextClaims   = "claims"
)

// Middleware authenticates API requests with session tokens.
type Middleware struct {
	jwt    *JWTManager
	logger zerolog.Logger
}

// NewMiddleware creates the middleware.
func NewMiddleware(jwt *JWTManager, logger zerolog.Logger) *Middleware {
	return &Middleware{
		jwt:    jwt,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// RequireAuth rejects requests without a valid bearer token. Websocket
// clients that cannot set headers may pass the token as ?access_token=.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid authorization header"})
			return
		}

		claims, err := m.jwt.ValidateToken(ctx, token)
		if err != nil {
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			m.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("Rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("user.username", claims.Username),
		)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequirePermission rejects authenticated requests lacking perm. It must run after RequireAuth.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		if !claims.HasPermission(perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "Insufficient permissions",
				"required": perm,
			})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims RequireAuth stored on the context.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
