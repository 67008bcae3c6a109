package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portalauth/internal/middleware"
	"portalauth/internal/models"
)

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h HandlerSet) UpdateUserStatus(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	err := h.auth.UpdateUserStatus(c.Request.Context(), actor.ID, c.Param("id"), models.UserStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CleanupSessions runs the expired session sweep immediately instead of waiting
// for the scheduled job.
func (h HandlerSet) CleanupSessions(c *gin.Context) {
	removed, err := h.auth.CleanupExpiredSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
	})
}
