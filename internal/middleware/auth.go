package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

const (
	userIDKey    = "user_id"
	userEmailKey = "user_email"
)

// TokenValidator is the part of the auth service the middleware needs
type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

// AuthMiddleware creates a middleware for bearer token authentication
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetLogger().WithContext(c.Request.Context())

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		token := authHeader
		if len(token) >= 6 && strings.EqualFold(token[:6], "bearer") {
			token = strings.TrimSpace(token[6:])
		}

		if token == "" {
			log.Warn("Missing access token",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			models.HandleError(c, models.NewAppErrorWithDetails(
				models.ErrorCodeMissingToken,
				"Access token required",
				"Provide a token in the Authorization header as 'Bearer <token>'",
			), log)
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, services.ErrTokenExpired) {
				message = "Token expired"
			}
			models.HandleError(c, models.NewAppErrorWithCause(models.ErrorCodeInvalidToken, message, err), log)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userEmailKey, claims.Email)

		ctx := logger.ContextWithUserID(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// UserID returns the authenticated user's id, or "" outside AuthMiddleware
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
