// Package proto defines the gateway's wire protocol: named events carrying a
// JSON payload, exchanged as text frames on a single websocket endpoint.
package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"chat-gateway/internal/models"
)

// Client to gateway events.
const (
	EventJoinChannel    = "join_channel"
	EventLeaveChannel   = "leave_channel"
	EventPresenceUpdate = "presence_update"
	EventNewMessage     = "new_message"
)

// Gateway to client events.
const (
	EventMessageReceived = "message_received"
	EventPresenceChanged = "presence_changed"
	EventError           = "error"
)

// Error codes carried by EventError.
const (
	CodeBadRequest      = "bad_request"
	CodeInvalidPresence = "invalid_presence"
	CodeUnauthorized    = "unauthorized"
	CodePersistFailed   = "persist_failed"
	CodeUnknownEvent    = "unknown_event"
	CodeInternal        = "internal"
)

var ErrInvalidChannelID = errors.New("invalid channel id")

// Inbound is the envelope for frames coming from a client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames sent to clients. Data is encoded once
// so a broadcast shares one payload across all recipients.
type Outbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewOutbound encodes data into an Outbound frame.
func NewOutbound(event string, data any) (Outbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Outbound{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Outbound{Event: event, Data: raw}, nil
}

// ChannelID accepts either a JSON number or a numeric string.
type ChannelID int64

func (id *ChannelID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ErrInvalidChannelID
		}
		b = []byte(s)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || v <= 0 {
		return ErrInvalidChannelID
	}
	*id = ChannelID(v)
	return nil
}

// PresenceUpdate is the payload of presence_update.
type PresenceUpdate struct {
	UserID   int64                 `json:"userId"`
	Presence models.PresenceStatus `json:"presence"`
}

// NewMessage is the payload of new_message. Content is a pointer so a missing
// field can be told apart from an empty string.
type NewMessage struct {
	ChannelID ChannelID `json:"channelId"`
	Content   *string   `json:"content"`
	UserID    int64     `json:"userId"`
}

// ErrorPayload is sent to the originating connection when its event failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
