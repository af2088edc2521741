package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workspace/sdlc-console/internal/auth"
	"github.com/workspace/sdlc-console/internal/botturn"
	"github.com/workspace/sdlc-console/internal/config"
	"github.com/workspace/sdlc-console/internal/logging"
	"github.com/workspace/sdlc-console/internal/server"
	"github.com/workspace/sdlc-console/internal/widget"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workspace HTTP and websocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a := newApp(cfg)
	defer a.Close()
	a.startFresh()

	opts := server.Options{
		Config:     cfg,
		Sessions:   a.sessions,
		Dispatcher: a.dispatcher,
		Detector: botturn.New(botturn.Options{
			GracePeriod: cfg.BotTurnGrace,
			MinInterval: cfg.BotTurnMinInterval,
			Logger:      logging.Component("botturn"),
		}),
		URLs: a.remote.URLs(),
	}

	if cfg.JWKSEndpoint != "" {
		validator, err := auth.NewJWTValidator(cfg.JWKSEndpoint, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			return fmt.Errorf("create JWT validator: %w", err)
		}
		opts.Validator = validator
	}

	if cfg.WidgetObservationEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		page, err := widget.Open(ctx, widget.Config{
			DebuggerURL:       cfg.WidgetDebuggerURL,
			PageURL:           cfg.WidgetPageURL,
			ContainerSelector: cfg.WidgetContainerSelector,
			PollInterval:      cfg.WidgetPollInterval,
		})
		cancel()
		if err != nil {
			slog.Warn("Headless widget observation disabled", "error", err)
		} else {
			defer page.Close()
			opts.Widget = page
			opts.WidgetProject = cfg.WidgetProjectID
			slog.Info("Observing widget in headless browser", "page", cfg.WidgetPageURL, "projectId", cfg.WidgetProjectID)
		}
	}

	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	timeout := shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Console stopped")
	return nil
}
