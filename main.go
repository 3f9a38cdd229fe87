package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chat-gateway/internal/app"
	"chat-gateway/internal/client"
	"chat-gateway/internal/config"
	"chat-gateway/internal/logging"
	"chat-gateway/internal/models"
	"chat-gateway/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chat-gateway",
		Short:        "Real-time presence and message fan-out gateway",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newTailCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := logging.New("info", "console")
			cfg, resolved, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", resolved).Str("addr", cfg.Addr).Str("db_driver", cfg.Database.Driver).Msg("starting chat gateway")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	return cmd
}

func newTailCmd() *cobra.Command {
	var (
		url       string
		token     string
		channelID int64
		userID    int64
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a channel and post lines from stdin as messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.NewWithWriter(os.Stderr, logLevel, "console")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			provider := client.NewProvider(client.Options{
				URL:            url,
				ReconnectDelay: 2 * time.Second,
				Dialer:         client.WebsocketDialer{Token: token},
				Logger:         logger,
			})
			conn, release := provider.Acquire()
			defer release()

			follow(conn, channelID, logger)
			if err := provider.SetUser(userID); err != nil {
				return err
			}

			lines := make(chan string)
			go scanLines(lines)

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := conn.Emit(proto.EventNewMessage, map[string]any{
						"channelId": channelID,
						"content":   line,
						"userId":    userID,
					}); err != nil {
						logger.Warn().Err(err).Msg("send failed")
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8083/socket", "gateway websocket url")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the handshake")
	cmd.Flags().Int64Var(&channelID, "channel", 1, "channel to follow")
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to post and announce presence as")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// follow joins the channel on every (re)connect and prints what arrives.
// Joining is idempotent, so the extra join below only covers a connect that
// happened before the listener was registered.
func follow(conn *client.Conn, channelID int64, logger zerolog.Logger) {
	join := func() {
		if err := conn.Emit(proto.EventJoinChannel, channelID); err != nil {
			logger.Warn().Err(err).Msg("join failed")
		}
	}
	conn.On(client.EventConnect, func(json.RawMessage) {
		join()
		fmt.Fprintf(os.Stderr, "* connected, following channel %d\n", channelID)
	})
	join()
	conn.On(client.EventDisconnect, func(json.RawMessage) {
		fmt.Fprintln(os.Stderr, "* disconnected, messages sent meanwhile will not be replayed")
	})
	conn.On(proto.EventMessageReceived, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		fmt.Printf("[%s] user %d: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.UserID, msg.Content)
	})
	conn.On(proto.EventPresenceChanged, func(data json.RawMessage) {
		var p models.Presence
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "* user %d is %s\n", p.UserID, p.Presence)
	})
	conn.On(proto.EventError, func(data json.RawMessage) {
		var e proto.ErrorPayload
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "! %s rejected: %s (%s)\n", e.Event, e.Message, e.Code)
	})
}

func scanLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			out <- line
		}
	}
}
