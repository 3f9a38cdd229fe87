package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/mocks"
	"chat-gateway/internal/models"
	"chat-gateway/internal/repositories"
)

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/users/:user_id/presence", handler.GetPresence)
	return r
}

func TestGetPresence(t *testing.T) {
	presenceRepo := new(mocks.PresenceRepositoryMock)
	router := setupPresenceRouter(NewPresenceHandler(presenceRepo))

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	presenceRepo.On("GetPresence", mock.Anything, int64(3)).
		Return(models.Presence{UserID: 3, Presence: models.PresenceDND, UpdatedAt: at}, nil).Once()

	rec := serve(router, http.MethodGet, "/users/3/presence", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":3,"presence":"DND","updatedAt":"2024-05-01T09:30:00Z"}`, rec.Body.String())
}

func TestGetPresenceNotFound(t *testing.T) {
	presenceRepo := new(mocks.PresenceRepositoryMock)
	router := setupPresenceRouter(NewPresenceHandler(presenceRepo))

	presenceRepo.On("GetPresence", mock.Anything, int64(3)).Return(nil, repositories.ErrPresenceNotFound).Once()

	rec := serve(router, http.MethodGet, "/users/3/presence", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodGet, "/users/me/presence", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
