package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/proto"
)

func TestConnDispatchesNamedEvents(t *testing.T) {
	d := newFakeDialer()
	conn := Connect(testOptions(d))
	defer conn.Close()
	tr := d.next(t)

	got := make(chan json.RawMessage, 4)
	off := conn.On(proto.EventMessageReceived, func(data json.RawMessage) { got <- data })
	conn.On(proto.EventPresenceChanged, func(json.RawMessage) { t.Error("presence handler must not fire") })

	tr.in <- outboundFrame(t, proto.EventMessageReceived, map[string]any{"id": 1})
	select {
	case data := <-got:
		var payload map[string]int
		decodeInto(t, data, &payload)
		assert.Equal(t, 1, payload["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	off()
	off()
	tr.in <- outboundFrame(t, proto.EventMessageReceived, map[string]any{"id": 2})
	tr.in <- outboundFrame(t, "noop", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)
}

func TestConnBuffersEventsUntilConnected(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	conn := Connect(testOptions(d))
	defer conn.Close()

	require.NoError(t, conn.Emit(proto.EventJoinChannel, 7))
	require.NoError(t, conn.Emit(proto.EventNewMessage, map[string]any{"channelId": 7, "content": "hi", "userId": 1}))
	assert.False(t, conn.Connected())

	close(d.gate)
	tr := d.next(t)

	written := waitWritten(t, tr, 2)
	assert.Equal(t, proto.EventJoinChannel, written[0].Event)
	assert.JSONEq(t, `7`, string(written[0].Data))
	assert.Equal(t, proto.EventNewMessage, written[1].Event)
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	d := newFakeDialer()
	conn := Connect(testOptions(d))
	defer conn.Close()

	disconnects := make(chan struct{}, 4)
	conn.On(EventDisconnect, func(json.RawMessage) { disconnects <- struct{}{} })

	first := d.next(t)
	first.drop()

	second := d.next(t)
	assert.Equal(t, int32(1), first.closes.Load())
	require.Eventually(t, conn.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, disconnects, 1)

	require.NoError(t, conn.Emit(proto.EventJoinChannel, 3))
	written := waitWritten(t, second, 1)
	assert.Equal(t, proto.EventJoinChannel, written[0].Event)
	assert.Empty(t, first.Written())
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestConnRetriesFailedHandshake(t *testing.T) {
	d := newFakeDialer()
	d.failFirst = 2
	conn := Connect(testOptions(d))
	defer conn.Close()

	d.next(t)
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestConnCloseIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	conn := Connect(testOptions(d))
	tr := d.next(t)
	require.Eventually(t, conn.Connected, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, int32(1), tr.closes.Load())
	assert.ErrorIs(t, conn.Emit(proto.EventJoinChannel, 1), ErrClosed)
	assert.False(t, conn.Connected())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load(), "no reconnect after close")
}

func TestConnCloseWhileDialing(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	conn := Connect(testOptions(d))

	done := make(chan error, 1)
	go func() { done <- conn.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a pending dial")
	}
	assert.Equal(t, int32(0), d.dials.Load())
}

func TestConnCloseFromHandler(t *testing.T) {
	d := newFakeDialer()
	conn := Connect(testOptions(d))
	tr := d.next(t)

	closed := make(chan error, 1)
	later := make(chan struct{}, 1)
	conn.On(proto.EventMessageReceived, func(json.RawMessage) { closed <- conn.Close() })
	conn.On(proto.EventPresenceChanged, func(json.RawMessage) { later <- struct{}{} })

	tr.in <- outboundFrame(t, proto.EventMessageReceived, map[string]any{"id": 1})
	tr.in <- outboundFrame(t, proto.EventPresenceChanged, map[string]any{"userId": 1})

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close called from a handler did not return")
	}

	assert.Equal(t, int32(1), tr.closes.Load())
	assert.ErrorIs(t, conn.Emit(proto.EventJoinChannel, 1), ErrClosed)
	require.NoError(t, conn.Close())

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, later, "no handler fires after close")
	assert.Equal(t, int32(1), d.dials.Load(), "no reconnect after close")
}
