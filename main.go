package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs after flag parsing.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "ta-collector",
		Short:         "Archive test results and deliver them to a collector or object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file (default $TA_CONFIG)")

	cmd.AddCommand(newDeliverCmd(a))
	cmd.AddCommand(newUploadArchivesCmd(a))
	cmd.AddCommand(newServeCmd(a))
	return cmd
}

// setup loads .env and the configuration and builds the logger.
func (a *app) setup() error {
	// Only attempt to load a .env file if APP_ENV is not 'production'.
	envLoaded := false
	if os.Getenv("APP_ENV") != "production" {
		envLoaded = godotenv.Load() == nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.LogLevel)
	slog.SetDefault(a.logger) // Set as default logger for convenience

	if envLoaded {
		a.logger.Debug("Loaded configuration from .env file for local development")
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo // Default
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
