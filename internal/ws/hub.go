package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"chat-gateway/internal/observability"
	"chat-gateway/internal/proto"
)

// ErrHubStopped is returned when a command is submitted after Run returned.
var ErrHubStopped = errors.New("hub stopped")

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdJoin
	cmdLeave
	cmdBroadcastRoom
	cmdBroadcastAll
	cmdSendTo
	cmdRoomsOf
)

type command struct {
	kind    commandKind
	client  *Client
	room    int64
	message proto.Outbound
	reply   chan []int64
}

// Hub owns the connection registry and serializes every membership change and
// broadcast through a single loop. Commands from one goroutine are applied in
// the order they were submitted.
type Hub struct {
	commands chan command
	stopping chan struct{}
	done     chan struct{}

	// stopMu keeps submits from racing the final drain of commands.
	stopMu  sync.RWMutex
	stopped bool

	registry *Registry
	clients  atomic.Int64
	rooms    atomic.Int64
	log      zerolog.Logger
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		commands: make(chan command, 256),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		registry: NewRegistry(),
		log:      logger.With().Str("component", "websocket-hub").Logger(),
	}
}

// Run processes commands until ctx is canceled, then closes every client's
// send queue and returns ctx.Err(). Commands accepted before the stop are
// still applied, so a client whose Register succeeded is always closed.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return ctx.Err()
		case cmd := <-h.commands:
			h.apply(cmd)
		}
	}
}

func (h *Hub) stop() {
	close(h.stopping)
	h.stopMu.Lock()
	h.stopped = true
	h.stopMu.Unlock()

	for {
		select {
		case cmd := <-h.commands:
			h.apply(cmd)
		default:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Register(c *Client) error {
	return h.submit(command{kind: cmdRegister, client: c})
}

// Unregister removes c and all its memberships. Nothing is broadcast.
func (h *Hub) Unregister(c *Client) error {
	return h.submit(command{kind: cmdUnregister, client: c})
}

// Join subscribes c to the room for channelID. Joining twice is a no-op.
func (h *Hub) Join(c *Client, channelID int64) error {
	return h.submit(command{kind: cmdJoin, client: c, room: channelID})
}

// Leave unsubscribes c from the room for channelID. Leaving a room that was
// not joined is a no-op.
func (h *Hub) Leave(c *Client, channelID int64) error {
	return h.submit(command{kind: cmdLeave, client: c, room: channelID})
}

// BroadcastRoom queues msg to every connection in the room for channelID.
func (h *Hub) BroadcastRoom(channelID int64, msg proto.Outbound) error {
	return h.submit(command{kind: cmdBroadcastRoom, room: channelID, message: msg})
}

// BroadcastAll queues msg to every connection, regardless of rooms.
func (h *Hub) BroadcastAll(msg proto.Outbound) error {
	return h.submit(command{kind: cmdBroadcastAll, message: msg})
}

// SendTo queues msg to a single connection if it is still registered.
func (h *Hub) SendTo(c *Client, msg proto.Outbound) error {
	return h.submit(command{kind: cmdSendTo, client: c, message: msg})
}

// roomsOf returns the rooms c has joined as seen by the hub loop, after every
// command previously submitted by the caller has been applied.
func (h *Hub) roomsOf(ctx context.Context, c *Client) ([]int64, error) {
	reply := make(chan []int64, 1)
	if err := h.submit(command{kind: cmdRoomsOf, client: c, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	return int(h.rooms.Load())
}

func (h *Hub) submit(cmd command) error {
	h.stopMu.RLock()
	defer h.stopMu.RUnlock()
	if h.stopped {
		return ErrHubStopped
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.stopping:
		return ErrHubStopped
	}
}

func (h *Hub) apply(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		if h.registry.Add(cmd.client) {
			h.clients.Add(1)
			observability.IncWSActive()
			h.log.Debug().Str("conn_id", cmd.client.ID()).Int("total_clients", h.registry.ClientCount()).Msg("client registered")
		}
	case cmdUnregister:
		h.drop(cmd.client)
	case cmdJoin:
		if h.registry.Join(cmd.client, cmd.room) {
			h.log.Debug().Str("conn_id", cmd.client.ID()).Int64("channel_id", cmd.room).Msg("joined room")
		}
	case cmdLeave:
		if h.registry.Leave(cmd.client, cmd.room) {
			h.log.Debug().Str("conn_id", cmd.client.ID()).Int64("channel_id", cmd.room).Msg("left room")
		}
	case cmdBroadcastRoom:
		members := h.registry.Members(cmd.room)
		h.deliver(members, cmd.message)
		observability.ObserveBroadcast("room", len(members))
	case cmdBroadcastAll:
		clients := h.registry.Clients()
		h.deliver(clients, cmd.message)
		observability.ObserveBroadcast("global", len(clients))
	case cmdSendTo:
		if h.registry.Has(cmd.client) {
			h.deliver([]*Client{cmd.client}, cmd.message)
		}
	case cmdRoomsOf:
		cmd.reply <- h.registry.RoomsOf(cmd.client)
	}
	h.rooms.Store(int64(h.registry.RoomCount()))
}

// deliver never blocks the loop: a client whose queue is full is dropped.
func (h *Hub) deliver(clients []*Client, msg proto.Outbound) {
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("conn_id", c.ID()).Str("event", msg.Event).Msg("send queue full, dropping client")
			observability.IncWSDroppedClient()
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	rooms, ok := h.registry.Remove(c)
	if !ok {
		return
	}
	close(c.send)
	h.clients.Add(-1)
	observability.DecWSActive()
	h.log.Debug().Str("conn_id", c.ID()).Ints64("rooms", rooms).Int("total_clients", h.registry.ClientCount()).Msg("client removed")
}

func (h *Hub) closeAll() {
	clients := h.registry.Clients()
	for _, c := range clients {
		h.drop(c)
	}
	h.log.Info().Int("clients_closed", len(clients)).Msg("websocket hub stopped")
}
