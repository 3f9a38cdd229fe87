package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-gateway/internal/proto"
)

type fakeTransport struct {
	in        chan proto.Outbound
	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu      sync.Mutex
	written []proto.Inbound
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan proto.Outbound, 16),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadJSON(v any) error {
	select {
	case out, ok := <-f.in:
		if !ok {
			return io.EOF
		}
		*v.(*proto.Outbound) = out
		return nil
	case <-f.done:
		return net.ErrClosed
	}
}

func (f *fakeTransport) WriteJSON(v any) error {
	select {
	case <-f.done:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v.(proto.Inbound))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Written() []proto.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.Inbound(nil), f.written...)
}

// drop simulates the server going away.
func (f *fakeTransport) drop() {
	close(f.in)
}

type fakeDialer struct {
	failFirst int
	gate      chan struct{}

	dials atomic.Int32
	made  chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{made: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := d.dials.Add(1)
	if int(n) <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.made <- t
	return t, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.made:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was dialed")
		return nil
	}
}

func testOptions(d Dialer) Options {
	return Options{URL: "ws://gateway.test/socket", ReconnectDelay: 10 * time.Millisecond, Dialer: d}
}

func outboundFrame(t *testing.T, event string, data any) proto.Outbound {
	t.Helper()
	out, err := proto.NewOutbound(event, data)
	require.NoError(t, err)
	return out
}

func waitWritten(t *testing.T, tr *fakeTransport, n int) []proto.Inbound {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.Written()) >= n }, 2*time.Second, 5*time.Millisecond)
	return tr.Written()
}

func decodeInto(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}
