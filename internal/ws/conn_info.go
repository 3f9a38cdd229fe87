package ws

import "time"

// ConnInfo describes a connection as established at handshake time.
type ConnInfo struct {
	ConnID string
	// UserID is the verified identity bound at handshake, zero when the
	// handshake carried no token.
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
