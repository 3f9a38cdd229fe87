package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/db"
	"chat-gateway/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := db.Connect(context.Background(), db.DriverSQLite, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestCreateMessageReturnsPersistedRow(t *testing.T) {
	repo := NewMessageRepo(newTestDB(t))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	msg, err := repo.CreateMessage(context.Background(), 7, 1, "hi")
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, int64(7), msg.ChannelID)
	assert.Equal(t, int64(1), msg.UserID)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.Deleted)
	assert.True(t, fixed.Equal(msg.CreatedAt))
	assert.True(t, fixed.Equal(msg.UpdatedAt))
}

func TestCreateMessageKeepsContentVerbatim(t *testing.T) {
	repo := NewMessageRepo(newTestDB(t))

	msg, err := repo.CreateMessage(context.Background(), 7, 1, "   ")
	require.NoError(t, err)
	assert.Equal(t, "   ", msg.Content)
}

func TestListChannelMessagesSkipsDeletedAndOtherChannels(t *testing.T) {
	repo := NewMessageRepo(newTestDB(t))
	ctx := context.Background()

	first, err := repo.CreateMessage(ctx, 7, 1, "one")
	require.NoError(t, err)
	second, err := repo.CreateMessage(ctx, 7, 2, "two")
	require.NoError(t, err)
	_, err = repo.CreateMessage(ctx, 8, 1, "elsewhere")
	require.NoError(t, err)
	third, err := repo.CreateMessage(ctx, 7, 1, "three")
	require.NoError(t, err)

	require.NoError(t, repo.SoftDeleteMessage(ctx, second.ID, 2))

	msgs, err := repo.ListChannelMessages(ctx, 7, 0, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, third.ID, msgs[1].ID)

	older, err := repo.ListChannelMessages(ctx, 7, third.ID, 50)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, first.ID, older[0].ID)
}

func TestSoftDeleteMessageRequiresAuthor(t *testing.T) {
	repo := NewMessageRepo(newTestDB(t))
	ctx := context.Background()

	msg, err := repo.CreateMessage(ctx, 7, 1, "mine")
	require.NoError(t, err)

	assert.ErrorIs(t, repo.SoftDeleteMessage(ctx, msg.ID, 2), ErrMessageNotFound)
	require.NoError(t, repo.SoftDeleteMessage(ctx, msg.ID, 1))
	assert.ErrorIs(t, repo.SoftDeleteMessage(ctx, msg.ID, 1), ErrMessageNotFound)

	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestGetMessageNotFound(t *testing.T) {
	repo := NewMessageRepo(newTestDB(t))

	_, err := repo.GetMessage(context.Background(), 42)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestUpdatePresenceOverwrites(t *testing.T) {
	repo := NewPresenceRepo(newTestDB(t))
	ctx := context.Background()

	_, err := repo.GetPresence(ctx, 1)
	require.ErrorIs(t, err, ErrPresenceNotFound)

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	require.NoError(t, repo.UpdatePresence(ctx, 1, models.PresenceOnline, t1))
	require.NoError(t, repo.UpdatePresence(ctx, 1, models.PresenceAway, t2))

	p, err := repo.GetPresence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.UserID)
	assert.Equal(t, models.PresenceAway, p.Presence)
	assert.True(t, t2.Equal(p.UpdatedAt))
}
