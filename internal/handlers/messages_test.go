package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/mocks"
	"chat-gateway/internal/models"
	"chat-gateway/internal/repositories"
	"chat-gateway/internal/telemetry"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(1))
		c.Next()
	})
	r.GET("/channels/:channel_id/messages", handler.ListMessages)
	r.POST("/channels/:channel_id/messages", handler.PostMessage)
	r.DELETE("/channels/:channel_id/messages/:message_id", handler.DeleteMessage)
	return r
}

func serve(router *gin.Engine, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return serveRequest(router, req)
}

func serveRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListMessagesSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, new(mocks.BroadcasterMock), nil, zerolog.Nop()))

	messageRepo.On("ListChannelMessages", mock.Anything, int64(7), int64(30), 10).
		Return([]models.Message{{ID: 11, ChannelID: 7, UserID: 2, Content: "hey"}}, nil).Once()

	rec := serve(router, http.MethodGet, "/channels/7/messages?limit=10&before_id=30", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hey", resp.Messages[0].Content)
	messageRepo.AssertExpectations(t)
}

func TestListMessagesCapsPageSize(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, new(mocks.BroadcasterMock), nil, zerolog.Nop()))

	messageRepo.On("ListChannelMessages", mock.Anything, int64(7), int64(0), maxPageSize).Return(nil, nil).Once()

	rec := serve(router, http.MethodGet, "/channels/7/messages?limit=5000", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
	messageRepo.AssertExpectations(t)
}

func TestListMessagesBadInput(t *testing.T) {
	router := setupMessageRouter(NewMessageHandler(new(mocks.MessageRepositoryMock), new(mocks.BroadcasterMock), nil, zerolog.Nop()))

	for _, path := range []string{
		"/channels/abc/messages",
		"/channels/0/messages",
		"/channels/7/messages?limit=-1",
		"/channels/7/messages?before_id=x",
	} {
		rec := serve(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestListMessagesRepoError(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, new(mocks.BroadcasterMock), nil, zerolog.Nop()))

	messageRepo.On("ListChannelMessages", mock.Anything, int64(7), int64(0), defaultPageSize).Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/channels/7/messages", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPostMessageTrimsAndBroadcasts(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewEmitter(publisher, "chat-gateway", "test", zerolog.Nop())
	router := setupMessageRouter(NewMessageHandler(messageRepo, broadcaster, emitter, zerolog.Nop()))

	created := models.Message{ID: 5, ChannelID: 7, UserID: 1, Content: "hello", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	messageRepo.On("CreateMessage", mock.Anything, int64(7), int64(1), "hello").Return(created, nil).Once()
	broadcaster.On("BroadcastMessage", created).Return(nil).Once()
	publisher.On("Publish", mock.Anything, telemetry.EventMessageCreated, mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/channels/7/messages", bytes.NewBufferString(`{"content":"  hello \n"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(5), resp.ID)
	messageRepo.AssertExpectations(t)
	broadcaster.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestPostMessageRejectsBlankContent(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, new(mocks.BroadcasterMock), nil, zerolog.Nop()))

	for _, body := range []string{`{}`, `{"content":""}`, `{"content":"   "}`, `not json`} {
		rec := serve(router, http.MethodPost, "/channels/7/messages", bytes.NewBufferString(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageStoreFailureIsNotBroadcast(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, broadcaster, nil, zerolog.Nop()))

	messageRepo.On("CreateMessage", mock.Anything, int64(7), int64(1), "hello").Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodPost, "/channels/7/messages", bytes.NewBufferString(`{"content":"hello"}`))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	broadcaster.AssertNotCalled(t, "BroadcastMessage", mock.Anything)
}

func TestDeleteMessageByAuthor(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	router := setupMessageRouter(NewMessageHandler(messageRepo, broadcaster, nil, zerolog.Nop()))

	messageRepo.On("GetMessage", mock.Anything, int64(9)).Return(models.Message{ID: 9, ChannelID: 7, UserID: 1}, nil).Once()
	messageRepo.On("SoftDeleteMessage", mock.Anything, int64(9), int64(1)).Return(nil).Once()

	rec := serve(router, http.MethodDelete, "/channels/7/messages/9", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
	broadcaster.AssertNotCalled(t, "BroadcastMessage", mock.Anything)
}

func TestDeleteMessageRejections(t *testing.T) {
	cases := []struct {
		name   string
		stored models.Message
		err    error
		status int
	}{
		{name: "missing", err: repositories.ErrMessageNotFound, status: http.StatusNotFound},
		{name: "other channel", stored: models.Message{ID: 9, ChannelID: 8, UserID: 1}, status: http.StatusBadRequest},
		{name: "not author", stored: models.Message{ID: 9, ChannelID: 7, UserID: 2}, status: http.StatusForbidden},
		{name: "store error", err: assert.AnError, status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			messageRepo := new(mocks.MessageRepositoryMock)
			router := setupMessageRouter(NewMessageHandler(messageRepo, new(mocks.BroadcasterMock), nil, zerolog.Nop()))

			if tc.err != nil {
				messageRepo.On("GetMessage", mock.Anything, int64(9)).Return(nil, tc.err).Once()
			} else {
				messageRepo.On("GetMessage", mock.Anything, int64(9)).Return(tc.stored, nil).Once()
			}

			rec := serve(router, http.MethodDelete, "/channels/7/messages/9", nil)

			assert.Equal(t, tc.status, rec.Code)
			messageRepo.AssertNotCalled(t, "SoftDeleteMessage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
