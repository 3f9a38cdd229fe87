package models

import "time"

// PresenceStatus describes a user's availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceAway    PresenceStatus = "AWAY"
	PresenceDND     PresenceStatus = "DND"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// Valid reports whether s is one of the known presence values.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// Presence is the last known presence of a user.
type Presence struct {
	UserID    int64          `db:"user_id" json:"userId"`
	Presence  PresenceStatus `db:"presence" json:"presence"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}
