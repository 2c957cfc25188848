package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/db"
	"gorm.io/gorm"
)

// HealthHandler reports database reachability.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(conn *gorm.DB) *HealthHandler {
	return &HealthHandler{db: conn}
}

// Healthz returns 200 when the database answers a ping.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if errPing := db.Ping(h.db); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
