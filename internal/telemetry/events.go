package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Exported gateway event types. They double as AMQP routing keys.
const (
	EventMessageCreated  = "message.created"
	EventPresenceChanged = "presence.changed"
	EventWSConnect       = "ws.connect"
	EventWSDisconnect    = "ws.disconnect"
	EventDebugTest       = "debug.test"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope wraps every exported event.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	UserID        *int64 `json:"user_id,omitempty"`
	Payload       any    `json:"payload"`
}

// Meta carries correlation data for an emitted event.
type Meta struct {
	RequestID string
	UserID    int64
}

// Emitter exports gateway events for downstream consumers. A nil Emitter is a no-op.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	log         zerolog.Logger
}

func NewEmitter(publisher Publisher, service, environment string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		log:         logger.With().Str("component", "telemetry").Logger(),
	}
}

// Emit publishes an event. Publish failures are logged and otherwise ignored.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload any, meta Meta) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     meta.RequestID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
	}
	if meta.UserID != 0 {
		userID := meta.UserID
		envelope.UserID = &userID
	}

	if err := e.publisher.Publish(ctx, eventType, envelope); err != nil {
		e.log.Warn().Err(err).Str("event_type", eventType).Msg("event publish failed")
	}
}
