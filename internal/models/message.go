package models

import "time"

// Message represents a channel message.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	ChannelID int64     `db:"channel_id" json:"channelId"`
	UserID    int64     `db:"user_id" json:"userId"`
	Content   string    `db:"content" json:"content"`
	Deleted   bool      `db:"deleted" json:"deleted"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
