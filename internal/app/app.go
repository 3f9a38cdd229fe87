package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/config"
	"chat-gateway/internal/db"
	"chat-gateway/internal/handlers"
	"chat-gateway/internal/logging"
	"chat-gateway/internal/middleware"
	"chat-gateway/internal/observability"
	"chat-gateway/internal/rabbitmq"
	"chat-gateway/internal/repositories"
	"chat-gateway/internal/telemetry"
	"chat-gateway/internal/ws"
)

// App wires the gateway, its stores and the HTTP surface together.
type App struct {
	server          *http.Server
	router          *gin.Engine
	hub             *ws.Hub
	db              *sqlx.DB
	publisher       rabbitmq.Publisher
	shutdownTracer  func(context.Context) error
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.Service, cfg.Telemetry.Environment, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	database, err := db.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("init database: %w", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	logger.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	emitter := telemetry.NewEmitter(publisher, cfg.Telemetry.Service, cfg.Telemetry.Environment, logger)

	messageRepo := repositories.NewMessageRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)

	verifier := auth.NewVerifier(auth.JWTConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    24 * time.Hour,
	})

	hub := ws.NewHub(logger)
	gateway := ws.NewGateway(hub, messageRepo, presenceRepo, emitter, logger)
	socket := ws.NewHandler(hub, gateway, verifier, emitter, ws.HandlerConfig{
		RequireAuth:     cfg.Auth.RequireSocketAuth,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
		SendBuffer:      cfg.WS.SendBuffer,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		PingInterval:    cfg.WS.PingInterval,
	}, logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.Service))
	router.Use(logging.GinMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": hub.ClientCount(), "rooms": hub.RoomCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET(cfg.WS.Path, socket.Handle)

	messageHandler := handlers.NewMessageHandler(messageRepo, gateway, emitter, logger)
	presenceHandler := handlers.NewPresenceHandler(presenceRepo)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/channels/:channel_id/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/channels/:channel_id/messages", authMiddleware, messageHandler.PostMessage)
	router.DELETE("/channels/:channel_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.GET("/users/:user_id/presence", authMiddleware, presenceHandler.GetPresence)

	handlers.RegisterDebugRoutes(router, emitter, cfg.Debug)

	return &App{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		router:          router,
		hub:             hub,
		db:              database,
		publisher:       publisher,
		shutdownTracer:  shutdownTracer,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run starts the hub and the HTTP server and blocks until ctx is canceled or
// the server fails. Open sockets are closed after the listener stops.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		_ = a.hub.Run(hubCtx)
		close(hubDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		} else {
			runErr = <-serverErr
		}
	}

	stopHub()
	<-hubDone
	a.cleanup()
	return runErr
}

func (a *App) cleanup() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close publisher")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.shutdownTracer(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to flush traces")
	}

	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	} else {
		a.log.Info().Msg("database closed")
	}
}
