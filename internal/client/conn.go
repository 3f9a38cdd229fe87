// Package client is the consumer side of the gateway: a single websocket
// connection with named-event listeners and fixed-delay reconnection, and a
// Provider that shares one such connection between many consumers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-gateway/internal/proto"
)

// Local lifecycle events. They are never sent over the wire.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

const (
	defaultReconnectDelay = time.Second
	maxPending            = 256
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("outbound buffer full")
)

// Transport is one established session with the gateway.
type Transport interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a Transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the gateway with gorilla/websocket. A non-empty Token
// is sent as a bearer token on the handshake.
type WebsocketDialer struct {
	Token            string
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// Options configures a Conn.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         Dialer
	Logger         zerolog.Logger
}

// Handler receives the data of a named event.
type Handler func(data json.RawMessage)

// Conn is a gateway connection that reconnects on its own until closed.
// Nothing is replayed after a reconnect: rooms must be joined again, which
// listeners can do on EventConnect.
type Conn struct {
	url    string
	dialer Dialer
	delay  time.Duration
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	transport Transport
	outbox    []proto.Inbound

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]Handler
	nextID     uint64
	// firing is set while the read loop runs handlers.
	firing atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Connect returns immediately and dials in the background. Events emitted
// before the first handshake completes are buffered.
func Connect(opts Options) *Conn {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:      opts.URL,
		dialer:   opts.Dialer,
		delay:    opts.ReconnectDelay,
		log:      opts.Logger.With().Str("component", "gateway-client").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]map[uint64]Handler),
	}

	c.wg.Add(1)
	go c.run()
	return c
}

// On registers fn for event and returns a func that removes it.
func (c *Conn) On(event string, fn Handler) (off func()) {
	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = fn
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			delete(c.handlers[event], id)
			if len(c.handlers[event]) == 0 {
				delete(c.handlers, event)
			}
			c.handlersMu.Unlock()
		})
	}
}

// Emit sends event with data encoded as JSON.
func (c *Conn) Emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame := proto.Inbound{Event: event, Data: raw}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.transport == nil {
		if len(c.outbox) >= maxPending {
			return ErrBufferFull
		}
		c.outbox = append(c.outbox, frame)
		return nil
	}
	if err := c.transport.WriteJSON(frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Connected reports whether a session is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// Close stops reconnecting and closes the current session. Only the first
// call has an effect. It waits for the read loop to exit unless a Handler is
// running; no Handler fires once the running one returns.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if t := c.detach(nil); t != nil {
			c.closeErr = t.Close()
		}
		if !c.firing.Load() {
			c.wg.Wait()
		}
		c.log.Debug().Msg("gateway connection closed")
	})
	return c.closeErr
}

func (c *Conn) run() {
	defer c.wg.Done()

	for {
		t, err := c.dialer.Dial(c.ctx, c.url)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Dur("retry_in", c.delay).Msg("gateway dial failed")
			if !c.sleep() {
				return
			}
			continue
		}

		if err := c.attach(t); err != nil {
			_ = t.Close()
			if errors.Is(err, ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Msg("flushing buffered events failed")
			if !c.sleep() {
				return
			}
			continue
		}
		c.log.Debug().Str("url", c.url).Msg("gateway connected")
		c.fire(EventConnect, nil)

		err = c.read(t)

		if own := c.detach(t); own != nil {
			_ = own.Close()
		}
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info().Err(err).Dur("retry_in", c.delay).Msg("gateway connection lost")
		c.fire(EventDisconnect, nil)
		if !c.sleep() {
			return
		}
	}
}

func (c *Conn) read(t Transport) error {
	for {
		var out proto.Outbound
		if err := t.ReadJSON(&out); err != nil {
			return err
		}
		c.fire(out.Event, out.Data)
		if c.ctx.Err() != nil {
			return ErrClosed
		}
	}
}

// attach makes t the current session and flushes buffered events to it.
func (c *Conn) attach(t Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	for len(c.outbox) > 0 {
		if err := t.WriteJSON(c.outbox[0]); err != nil {
			return err
		}
		c.outbox = c.outbox[1:]
	}
	c.outbox = nil
	c.transport = t
	return nil
}

// detach clears the current session if it is t (or any session when t is
// nil) and returns it. The caller that gets it back is the one to close it.
func (c *Conn) detach(t Transport) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.transport
	if cur == nil || (t != nil && cur != t) {
		return nil
	}
	c.transport = nil
	return cur
}

func (c *Conn) fire(event string, data json.RawMessage) {
	c.handlersMu.RLock()
	fns := make([]Handler, 0, len(c.handlers[event]))
	for _, fn := range c.handlers[event] {
		fns = append(fns, fn)
	}
	c.handlersMu.RUnlock()

	c.firing.Store(true)
	defer c.firing.Store(false)
	for _, fn := range fns {
		if c.ctx.Err() != nil {
			return
		}
		fn(data)
	}
}

func (c *Conn) sleep() bool {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}
