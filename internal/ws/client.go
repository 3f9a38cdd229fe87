package ws

import (
	"sync/atomic"

	"chat-gateway/internal/proto"
)

// clientSeq orders clients so broadcasts iterate deterministically.
var clientSeq atomic.Uint64

// Client is one live connection as seen by the hub. Its send queue is owned
// by the hub: only the hub loop writes to it or closes it.
type Client struct {
	seq  uint64
	info ConnInfo
	send chan proto.Outbound

	// announced is the user id from the last successful presence_update.
	announced atomic.Int64
}

// NewClient constructs a client with a send queue of the given capacity.
func NewClient(info ConnInfo, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		seq:  clientSeq.Add(1),
		info: info,
		send: make(chan proto.Outbound, buffer),
	}
}

func (c *Client) ID() string {
	return c.info.ConnID
}

func (c *Client) Info() ConnInfo {
	return c.info
}

// Send returns the outbound queue. It is closed when the hub drops the client.
func (c *Client) Send() <-chan proto.Outbound {
	return c.send
}

// BoundUserID is the handshake-verified user, or zero.
func (c *Client) BoundUserID() int64 {
	return c.info.UserID
}

// UserID is the user this connection last announced presence for, falling
// back to the bound identity.
func (c *Client) UserID() int64 {
	if id := c.announced.Load(); id != 0 {
		return id
	}
	return c.info.UserID
}

func (c *Client) announce(userID int64) {
	c.announced.Store(userID)
}
