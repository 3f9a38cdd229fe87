package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-gateway/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const selectMessage = `SELECT id, channel_id, user_id, content, deleted, created_at, updated_at FROM messages`

// MessageRepository defines interactions for channel messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, channelID int64, userID int64, content string) (models.Message, error)
	ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID int64, userID int64) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: now}
}

// CreateMessage stores a message and returns the row as the database recorded it.
func (r *MessageRepo) CreateMessage(ctx context.Context, channelID int64, userID int64, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := r.now()
	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO messages (channel_id, user_id, content, deleted, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		channelID, userID, content, false, ts, ts).Scan(&id)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	var msg models.Message
	if err := tx.GetContext(ctx, &msg, tx.Rebind(selectMessage+` WHERE id=?`), id); err != nil {
		return models.Message{}, fmt.Errorf("read back message %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// ListChannelMessages returns non-deleted messages of a channel in id order.
// A positive beforeID pages backwards from that message.
func (r *MessageRepo) ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	query := selectMessage + ` WHERE channel_id=? AND deleted=? `
	args := []any{channelID, false}
	if beforeID > 0 {
		query += `AND id<? `
		args = append(args, beforeID)
	}
	query += `ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(selectMessage+` WHERE id=?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDeleteMessage flags a message as deleted. Only the author may do so.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID int64, userID int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET deleted=?, updated_at=? WHERE id=? AND user_id=? AND deleted=?`),
		true, r.now(), messageID, userID, false)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
