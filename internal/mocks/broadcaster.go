package mocks

import (
	"github.com/stretchr/testify/mock"

	"chat-gateway/internal/models"
)

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastMessage(msg models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
