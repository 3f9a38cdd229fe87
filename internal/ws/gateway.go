package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-gateway/internal/models"
	"chat-gateway/internal/observability"
	"chat-gateway/internal/proto"
	"chat-gateway/internal/repositories"
	"chat-gateway/internal/telemetry"
)

// Gateway interprets client events: it applies room membership changes through
// the hub and persists messages and presence before broadcasting them.
type Gateway struct {
	hub      *Hub
	messages repositories.MessageRepository
	presence repositories.PresenceRepository
	emitter  *telemetry.Emitter
	tracer   trace.Tracer
	log      zerolog.Logger
	now      func() time.Time
}

// NewGateway constructs a Gateway. emitter may be nil.
func NewGateway(hub *Hub, messages repositories.MessageRepository, presence repositories.PresenceRepository, emitter *telemetry.Emitter, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		messages: messages,
		presence: presence,
		emitter:  emitter,
		tracer:   otel.Tracer("chat-gateway/ws"),
		log:      logger.With().Str("component", "gateway").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// DispatchFrame decodes a raw text frame and dispatches the event it carries.
func (g *Gateway) DispatchFrame(ctx context.Context, c *Client, frame []byte) error {
	var in proto.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return g.report(c, in.Event, eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: %v", ErrMalformedPayload, err)))
	}
	if in.Event == "" {
		return g.report(c, in.Event, eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: event is required", ErrMalformedPayload)))
	}
	return g.Dispatch(ctx, c, in)
}

// Dispatch handles one client event and reports its outcome: failures are
// logged, counted and sent back to the originating connection as an error event.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, in proto.Inbound) error {
	return g.report(c, in.Event, g.Handle(ctx, c, in))
}

func (g *Gateway) report(c *Client, event string, err error) error {
	label := eventLabel(event)
	if err == nil {
		observability.IncWSEvent(label, "ok")
		return nil
	}

	code := errorCode(err)
	observability.IncWSEvent(label, code)

	logEvent := g.log.Warn()
	if code == proto.CodePersistFailed || code == proto.CodeInternal {
		logEvent = g.log.Error()
	}
	logEvent.Err(err).Str("conn_id", c.ID()).Str("event", event).Str("code", code).Msg("event rejected")

	out, encErr := proto.NewOutbound(proto.EventError, proto.ErrorPayload{
		Code:    code,
		Event:   event,
		Message: publicMessage(err),
	})
	if encErr == nil {
		_ = g.hub.SendTo(c, out)
	}
	return err
}

// eventLabel bounds the metric label to the events the gateway understands.
func eventLabel(event string) string {
	switch event {
	case proto.EventJoinChannel, proto.EventLeaveChannel, proto.EventPresenceUpdate, proto.EventNewMessage:
		return event
	default:
		return "unknown"
	}
}

// Handle applies a single event. A panic inside a handler is converted to an
// internal error so one connection cannot take the process down.
func (g *Gateway) Handle(ctx context.Context, c *Client, in proto.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eventError(in.Event, proto.CodeInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	switch in.Event {
	case proto.EventJoinChannel:
		id, err := decodeChannelID(in)
		if err != nil {
			return err
		}
		return g.hub.Join(c, id)
	case proto.EventLeaveChannel:
		id, err := decodeChannelID(in)
		if err != nil {
			return err
		}
		return g.hub.Leave(c, id)
	case proto.EventPresenceUpdate:
		return g.handlePresence(ctx, c, in)
	case proto.EventNewMessage:
		return g.handleNewMessage(ctx, c, in)
	default:
		return eventError(in.Event, proto.CodeUnknownEvent, fmt.Errorf("unknown event %q", in.Event))
	}
}

func (g *Gateway) handlePresence(ctx context.Context, c *Client, in proto.Inbound) error {
	var p proto.PresenceUpdate
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.UserID <= 0 {
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: userId is required", ErrMalformedPayload))
	}
	if !p.Presence.Valid() {
		return eventError(in.Event, proto.CodeInvalidPresence, fmt.Errorf("unknown presence %q", p.Presence))
	}
	if err := authorize(c, in.Event, p.UserID); err != nil {
		return err
	}

	// The write outlives the connection: a disconnect after this point must
	// not abandon it.
	storeCtx, span := g.tracer.Start(context.WithoutCancel(ctx), "ws.presence_update",
		trace.WithAttributes(attribute.Int64("user_id", p.UserID), attribute.String("presence", string(p.Presence))))
	defer span.End()

	record := models.Presence{UserID: p.UserID, Presence: p.Presence, UpdatedAt: g.now()}
	started := time.Now()
	err := g.presence.UpdatePresence(storeCtx, record.UserID, record.Presence, record.UpdatedAt)
	observability.ObserveStoreWrite("update_presence", started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update presence")
		return eventError(in.Event, proto.CodePersistFailed, err)
	}
	c.announce(record.UserID)

	out, err := proto.NewOutbound(proto.EventPresenceChanged, record)
	if err != nil {
		return eventError(in.Event, proto.CodeInternal, err)
	}
	if err := g.hub.BroadcastAll(out); err != nil {
		return eventError(in.Event, proto.CodeInternal, err)
	}

	g.emitter.Emit(storeCtx, telemetry.EventPresenceChanged, record, telemetry.Meta{
		RequestID: c.Info().RequestID,
		UserID:    record.UserID,
	})
	return nil
}

func (g *Gateway) handleNewMessage(ctx context.Context, c *Client, in proto.Inbound) error {
	var m proto.NewMessage
	if err := decode(in, &m); err != nil {
		return err
	}
	switch {
	case m.ChannelID <= 0:
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: channelId is required", ErrMalformedPayload))
	case m.UserID <= 0:
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: userId is required", ErrMalformedPayload))
	case m.Content == nil:
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: content is required", ErrMalformedPayload))
	}
	if err := authorize(c, in.Event, m.UserID); err != nil {
		return err
	}

	channelID := int64(m.ChannelID)
	storeCtx, span := g.tracer.Start(context.WithoutCancel(ctx), "ws.new_message",
		trace.WithAttributes(attribute.Int64("channel_id", channelID), attribute.Int64("user_id", m.UserID)))
	defer span.End()

	// Content is stored exactly as sent; the REST path is where it gets validated.
	started := time.Now()
	msg, err := g.messages.CreateMessage(storeCtx, channelID, m.UserID, *m.Content)
	observability.ObserveStoreWrite("create_message", started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create message")
		return eventError(in.Event, proto.CodePersistFailed, err)
	}
	span.SetAttributes(attribute.Int64("message_id", msg.ID))

	if err := g.BroadcastMessage(msg); err != nil {
		return eventError(in.Event, proto.CodeInternal, err)
	}

	g.emitter.Emit(storeCtx, telemetry.EventMessageCreated, msg, telemetry.Meta{
		RequestID: c.Info().RequestID,
		UserID:    msg.UserID,
	})
	return nil
}

// BroadcastMessage fans a persisted message out to its channel room. It is
// also used by the REST creation path.
func (g *Gateway) BroadcastMessage(msg models.Message) error {
	out, err := proto.NewOutbound(proto.EventMessageReceived, msg)
	if err != nil {
		return err
	}
	return g.hub.BroadcastRoom(msg.ChannelID, out)
}

func authorize(c *Client, event string, claimed int64) error {
	if bound := c.BoundUserID(); bound != 0 && bound != claimed {
		return eventError(event, proto.CodeUnauthorized, ErrIdentityMismatch)
	}
	return nil
}

func decodeChannelID(in proto.Inbound) (int64, error) {
	var id proto.ChannelID
	if err := decode(in, &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, eventError(in.Event, proto.CodeBadRequest, proto.ErrInvalidChannelID)
	}
	return int64(id), nil
}

func decode(in proto.Inbound, v any) error {
	if len(in.Data) == 0 {
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: missing data", ErrMalformedPayload))
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		if errors.Is(err, proto.ErrInvalidChannelID) {
			return eventError(in.Event, proto.CodeBadRequest, err)
		}
		return eventError(in.Event, proto.CodeBadRequest, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return nil
}
