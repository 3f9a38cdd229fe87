package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/observability"
	"chat-gateway/internal/telemetry"
)

const writeWait = 10 * time.Second

// TokenValidator verifies a session token and returns its user id.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// RequireAuth rejects handshakes that do not carry a valid token.
	RequireAuth     bool
	AllowedOrigins  []string
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
}

// Handler upgrades HTTP requests and runs one read and one write loop per connection.
type Handler struct {
	hub       *Hub
	gateway   *Gateway
	validator TokenValidator
	emitter   *telemetry.Emitter
	cfg       HandlerConfig
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewHandler constructs a Handler. validator may be nil when RequireAuth is false.
func NewHandler(hub *Hub, gateway *Gateway, validator TokenValidator, emitter *telemetry.Emitter, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	h := &Handler{
		hub:       hub,
		gateway:   gateway,
		validator: validator,
		emitter:   emitter,
		cfg:       cfg,
		log:       logger.With().Str("component", "ws-handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Handle upgrades the connection and blocks until it is closed.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-gateway/ws").Start(c.Request.Context(), "ws.handshake")
	traceID := span.SpanContext().TraceID().String()

	userID, err := h.authenticate(c)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	span.End()

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.ClientIP(c.Request),
		RequestID:   observability.RequestID(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := NewClient(info, h.cfg.SendBuffer)
	if err := h.hub.Register(client); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	log := h.log.With().Str("conn_id", info.ConnID).Str("ip", info.IP).Logger()
	log.Info().Int64("user_id", userID).Msg("websocket connected")
	h.emitter.Emit(ctx, telemetry.EventWSConnect, connPayload(info, ""), telemetry.Meta{RequestID: info.RequestID, UserID: userID})

	go h.writePump(conn, client, log)
	reason := h.readPump(ctx, conn, client, log)

	_ = h.hub.Unregister(client)
	_ = conn.Close()
	log.Info().Str("reason", reason).Dur("duration", time.Since(info.ConnectedAt)).Msg("websocket disconnected")
	h.emitter.Emit(ctx, telemetry.EventWSDisconnect, connPayload(info, reason), telemetry.Meta{RequestID: info.RequestID, UserID: client.UserID()})
}

func (h *Handler) authenticate(c *gin.Context) (int64, error) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		if h.cfg.RequireAuth {
			return 0, auth.ErrMissingToken
		}
		return 0, nil
	}
	if h.validator == nil {
		if h.cfg.RequireAuth {
			return 0, auth.ErrInvalidToken
		}
		return 0, nil
	}
	return h.validator.ValidateToken(token)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// readPump processes the connection's events one at a time and returns the close reason.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *Client, log zerolog.Logger) string {
	pongWait := h.cfg.PingInterval * 10 / 9
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		_ = h.gateway.DispatchFrame(ctx, client, data)
	}
}

// writePump drains the client's send queue and keeps the connection alive with pings.
func (h *Handler) writePump(conn *websocket.Conn, client *Client, log zerolog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub dropped the client or is shutting down
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func connPayload(info ConnInfo, reason string) map[string]any {
	return map[string]any{
		"conn_id":     info.ConnID,
		"device_id":   info.DeviceID,
		"ip":          info.IP,
		"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
		"reason":      reason,
	}
}
