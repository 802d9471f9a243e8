package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// bindJSON decodes the request body into out, writing the error response
// itself when decoding fails.
func bindJSON(c *gin.Context, out interface{}, log *logger.Logger) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		log.Warn("Invalid JSON in request",
			zap.Error(err),
			zap.String("content_type", c.GetHeader("Content-Type")),
		)

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			models.HandleError(c, models.NewAppErrorWithCause(models.ErrorCodeRequestTooLarge, "Request body too large", err), log)
			return false
		}
		models.HandleError(c, models.NewMalformedJSONError(err), log)
		return false
	}
	return true
}

// AuthHandler handles registration and login
type AuthHandler struct {
	authService services.AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService services.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req models.RegisterRequest
	if !bindJSON(c, &req, log) {
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req models.LoginRequest
	if !bindJSON(c, &req, log) {
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, resp)
}
