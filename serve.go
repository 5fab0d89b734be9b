package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/husmancristian/ta-collector/pkg/api"
	"github.com/husmancristian/ta-collector/pkg/storage/filestore"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local collector that implements the remote upload protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	return cmd
}

func (a *app) serve(parent context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("Starting local collector...", slog.String("log_level", cfg.LogLevel), slog.String("data_dir", cfg.DataDir))

	// --- Context for graceful shutdown ---
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := filestore.NewStore(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize collector store: %w", err)
	}
	defer store.Close()

	if cfg.Token == "" {
		logger.Warn("TA_TOKEN is empty, bearer authentication is disabled")
	}
	apiHandler := api.NewAPI(store, logger, cfg.FrontendURL)
	router := api.SetupRouter(apiHandler, cfg.Token, cfg.RequestTimeout)
	logger.Info("API router configured")

	// --- HTTP Server Setup ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second), // Slightly longer than handler timeout
		WriteTimeout: cfg.RequestTimeout + (5 * time.Second),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting on address", slog.String("protocol", "http"), slog.String("address", server.Addr))
		if err := server.ListenAndServe(); errors.Is(err, syscall.EADDRINUSE) {
			serveErr <- fmt.Errorf("port %s is already in use: %w", cfg.Port, err)
		} else if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server failed: %w", err)
		}
		close(serveErr)
	}()

	// --- Wait for shutdown signal ---
	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Shutdown complete.")
	return nil
}
