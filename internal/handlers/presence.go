package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-gateway/internal/repositories"
)

// PresenceHandler exposes stored presence.
type PresenceHandler struct {
	presenceRepo repositories.PresenceRepository
}

func NewPresenceHandler(presenceRepo repositories.PresenceRepository) *PresenceHandler {
	return &PresenceHandler{presenceRepo: presenceRepo}
}

// GetPresence returns the last presence a user announced.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, ok := parseID(c, "user_id", "user")
	if !ok {
		return
	}

	presence, err := h.presenceRepo.GetPresence(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrPresenceNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "presence not found"})
		return
	}

	c.JSON(http.StatusOK, presence)
}
