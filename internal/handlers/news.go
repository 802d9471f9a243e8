package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/internal/services"
)

// NewsHandler serves the news feed
type NewsHandler struct {
	newsService services.NewsServiceInterface
}

// NewNewsHandler creates a new NewsHandler instance
func NewNewsHandler(newsService services.NewsServiceInterface) *NewsHandler {
	return &NewsHandler{newsService: newsService}
}

// Latest handles GET /api/news
func (h *NewsHandler) Latest(c *gin.Context) {
	c.JSON(http.StatusOK, h.newsService.Latest(c.Request.Context()))
}
