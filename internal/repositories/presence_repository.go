package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-gateway/internal/models"
)

var ErrPresenceNotFound = errors.New("presence not found")

// PresenceRepository abstracts presence persistence.
type PresenceRepository interface {
	UpdatePresence(ctx context.Context, userID int64, presence models.PresenceStatus, at time.Time) error
	GetPresence(ctx context.Context, userID int64) (models.Presence, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// UpdatePresence overwrites the user's presence row, creating it on first use.
func (r *PresenceRepo) UpdatePresence(ctx context.Context, userID int64, presence models.PresenceStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO user_presence (user_id, presence, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET presence = EXCLUDED.presence, updated_at = EXCLUDED.updated_at`),
		userID, string(presence), at)
	return err
}

// GetPresence fetches the stored presence of a user.
func (r *PresenceRepo) GetPresence(ctx context.Context, userID int64) (models.Presence, error) {
	var p models.Presence
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT user_id, presence, updated_at FROM user_presence WHERE user_id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Presence{}, ErrPresenceNotFound
	}
	return p, err
}
