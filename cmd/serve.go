package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abitbot/abitbot/internal/api"
	"github.com/abitbot/abitbot/internal/app"
	"github.com/abitbot/abitbot/internal/bot"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // chat requests wait for queueing plus generation
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second

	// askTimeout bounds one message end to end: admission, queueing behind
	// earlier messages in the same conversation, retrieval and generation.
	askTimeout = 2 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting abitbot", "version", AppVersion, "addr", cfg.ListenAddr)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	scheduler, err := a.RefreshScheduler()
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("index refresh scheduled", "spec", cfg.RefreshSchedule)
	}

	transport := api.NewHTTPTransport(0)
	b, err := bot.New(transport, a.Manager, a.Limiter, a.Gate, askTimeout,
		logger.With("component", "bot"))
	if err != nil {
		return err
	}

	botErr := make(chan error, 1)
	go func() {
		botErr <- b.Run(ctx)
	}()

	server, err := api.NewServer(api.ServerConfig{
		Logger:        logger.With("component", "api"),
		Transport:     transport,
		Conversations: a.Sessions,
		Feedback:      a.Sessions,
		Pool:          a.Pool,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	transport.Close()
	if err := <-botErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("bot stopped with error", "error", err)
	}

	return nil
}
