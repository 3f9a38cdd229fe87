package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/models"
	"chat-gateway/internal/repositories"
	"chat-gateway/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Broadcaster fans a persisted message out to its channel room.
type Broadcaster interface {
	BroadcastMessage(msg models.Message) error
}

// MessageHandler serves channel message endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	broadcaster Broadcaster
	emitter     *telemetry.Emitter
	log         zerolog.Logger
}

// NewMessageHandler builds a MessageHandler. emitter may be nil.
func NewMessageHandler(messageRepo repositories.MessageRepository, broadcaster Broadcaster, emitter *telemetry.Emitter, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		broadcaster: broadcaster,
		emitter:     emitter,
		log:         logger.With().Str("component", "message-handler").Logger(),
	}
}

// ListMessages returns a page of non-deleted channel messages in id order.
// Clients call it to catch up after a reconnect.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	channelID, ok := parseID(c, "channel_id", "channel")
	if !ok {
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxPageSize)
	}

	var beforeID int64
	if raw := c.Query("before_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_id"})
			return
		}
		beforeID = parsed
	}

	msgs, err := h.messageRepo.ListChannelMessages(c.Request.Context(), channelID, beforeID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and broadcasts it to the channel room.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	channelID, ok := parseID(c, "channel_id", "channel")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	userID := middleware.UserID(c)
	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), channelID, userID, content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.broadcaster.BroadcastMessage(msg); err != nil {
		h.log.Error().Err(err).Int64("message_id", msg.ID).Int64("channel_id", channelID).Msg("broadcast failed")
	}
	h.emitter.Emit(c.Request.Context(), telemetry.EventMessageCreated, msg, telemetry.Meta{
		RequestID: requestIDFromContext(c),
		UserID:    userID,
	})

	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage soft-deletes a message. Only its author may do so. Nothing is
// broadcast: clients learn about deletions on their next fetch.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	channelID, ok := parseID(c, "channel_id", "channel")
	if !ok {
		return
	}
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ChannelID != channelID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to channel"})
		return
	}

	userID := middleware.UserID(c)
	if msg.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author can delete a message"})
		return
	}

	if err := h.messageRepo.SoftDeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	c.Status(http.StatusNoContent)
}
