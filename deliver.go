package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/reporter"
	"github.com/spf13/cobra"
)

func newDeliverCmd(a *app) *cobra.Command {
	var input string
	var failOnError bool

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Archive a recorded session and deliver it to the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manifest, err := reporter.LoadManifest(input)
			if err != nil {
				return err
			}

			rep, err := reporter.New(ctx, a.cfg, reporter.Deps{Logger: a.logger})
			if errors.Is(err, reporter.ErrConfiguration) {
				a.logger.Error("Reporter disabled by invalid configuration", slog.String("error", err.Error()))
				return err
			}
			if err != nil {
				return err
			}
			defer rep.Close()

			report, err := rep.Deliver(ctx, manifest, config.CIEnrichment(os.Getenv))
			if err != nil {
				return fmt.Errorf("invalid session manifest: %w", err)
			}
			printReport(cmd, report)

			if failOnError && !report.Success() {
				return fmt.Errorf("delivery of run %s had errors", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to the session manifest (JSON)")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any sink reports an error")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func printReport(cmd *cobra.Command, report reporter.SessionReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", report.RunID)
	for _, sink := range report.Sinks {
		status := "ok"
		if !sink.Success {
			status = "failed"
		}
		fmt.Fprintf(out, "  %-8s %s\n", sink.Sink, status)
		for _, loc := range sink.Locators {
			fmt.Fprintf(out, "    -> %s\n", loc)
		}
		for _, err := range sink.Errors {
			fmt.Fprintf(out, "    !  %v\n", err)
		}
	}
	if report.RunURL != "" {
		fmt.Fprintf(out, "view results at %s\n", report.RunURL)
	}
}
