package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/oralscan/internal/logging"
)

// AnonymousUserID owns analyses submitted without a token when anonymous analysis is enabled.
const AnonymousUserID = "anonymous"

type contextKey string

const identityKey contextKey = "authIdentity"

// Registrar records identities the first time they are seen.
type Registrar interface {
	EnsureUser(ctx context.Context, externalID, email string) error
}

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	identity, ok := GetIdentity(ctx)
	if !ok {
		return "", false
	}
	return identity.UserID, true
}

// GetIdentity retrieves the full verified identity from context.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	if value, ok := ctx.Value(identityKey).(*Identity); ok && value != nil && value.UserID != "" {
		return value, true
	}
	return nil, false
}

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Middleware rejects requests without a valid bearer token and injects the identity.
func Middleware(verifier Verifier, registrar Registrar, logger *zap.Logger) gin.HandlerFunc {
	return newMiddleware(verifier, registrar, logger.Named("auth"), false)
}

// Optional behaves like Middleware except that a request with no Authorization
// header proceeds as AnonymousUserID. A header that is present must still verify.
func Optional(verifier Verifier, registrar Registrar, logger *zap.Logger) gin.HandlerFunc {
	return newMiddleware(verifier, registrar, logger.Named("auth"), true)
}

func newMiddleware(verifier Verifier, registrar Registrar, logger *zap.Logger, allowAnonymous bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		requestID := logging.RequestID(ctx)

		tokenString, err := extractBearerToken(c.GetHeader("Authorization"))
		if errors.Is(err, ErrMissingToken) && allowAnonymous {
			c.Request = c.Request.WithContext(ContextWithIdentity(ctx, &Identity{UserID: AnonymousUserID}))
			c.Next()
			return
		}
		if err != nil {
			logger.Info("rejected request", zap.String("request_id", requestID), zap.Error(err))
			unauthorized(c)
			return
		}

		identity, err := verifier.Verify(ctx, tokenString)
		if err != nil {
			logger.Info("token verification failed", zap.String("request_id", requestID), zap.Error(err))
			unauthorized(c)
			return
		}

		if registrar != nil {
			if err := registrar.EnsureUser(ctx, identity.UserID, identity.Email); err != nil {
				logger.Warn("failed to record user", zap.String("request_id", requestID), zap.String("user_id", identity.UserID), zap.Error(err))
			}
		}

		c.Request = c.Request.WithContext(ContextWithIdentity(ctx, identity))
		c.Set(string(identityKey), identity.UserID)

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":     "Unauthorized",
		"status":    http.StatusUnauthorized,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
