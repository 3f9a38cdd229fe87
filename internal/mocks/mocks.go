package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-gateway/internal/models"
	"chat-gateway/internal/repositories"
	"chat-gateway/internal/telemetry"
)

var (
	_ repositories.MessageRepository  = (*MessageRepositoryMock)(nil)
	_ repositories.PresenceRepository = (*PresenceRepositoryMock)(nil)
	_ telemetry.Publisher             = (*PublisherMock)(nil)
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, channelID int64, userID int64, content string) (models.Message, error) {
	args := m.Called(ctx, channelID, userID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, channelID, beforeID, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDeleteMessage(ctx context.Context, messageID int64, userID int64) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) UpdatePresence(ctx context.Context, userID int64, presence models.PresenceStatus, at time.Time) error {
	args := m.Called(ctx, userID, presence, at)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) GetPresence(ctx context.Context, userID int64) (models.Presence, error) {
	args := m.Called(ctx, userID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Error(1)
}

// PublisherMock records exported gateway events. Assert on the
// telemetry.Envelope passed as the event argument.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
