package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pescn/psy-data-gen/coreengine/bootstrap"
	"github.com/pescn/psy-data-gen/coreengine/observability"
)

type runFlags struct {
	sessions    int
	concurrency int
	outputDir   string
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of counseling sessions",
		Long: `Run loads the settings file, generates the configured number of sessions
and writes one JSON document per session plus summary.json into the output
directory. Finished sessions are also persisted when a store is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, f)
		},
	}
	cmd.Flags().IntVarP(&f.sessions, "sessions", "n", 0, "Number of sessions (overrides batch.sessions)")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 0, "Sessions in flight (overrides batch.concurrency)")
	cmd.Flags().StringVarP(&f.outputDir, "out", "o", "", "Output directory (overrides batch.output_dir)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides metrics.addr)")
	return cmd
}

func (f runFlags) apply(s *bootstrap.Settings) {
	if f.sessions > 0 {
		s.Batch.Sessions = f.sessions
	}
	if f.concurrency > 0 {
		s.Batch.Concurrency = f.concurrency
	}
	if f.outputDir != "" {
		s.Batch.OutputDir = f.outputDir
	}
	if f.metricsAddr != "" {
		s.Metrics.Addr = f.metricsAddr
	}
}

func runBatch(cmd *cobra.Command, f runFlags) error {
	s, err := bootstrap.Load(configPath)
	if err != nil {
		return err
	}
	f.apply(s)

	logger, err := observability.NewZapLogger(s.Core.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, s, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()
	if s.Metrics.Addr != "" {
		a.serveMetrics(s.Metrics.Addr)
	}

	logger.Info("psygen_starting",
		"version", version,
		"model", s.LLM.Model,
		"sessions", s.Batch.Sessions,
		"concurrency", s.Batch.Concurrency,
	)

	results, summary, runErr := a.run(ctx)
	path, err := a.exporter.writeSummary(summary, results)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nsummary written to %s\n", out, path)
	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d sessions failed", summary.Failed, summary.Total)
	}
	return nil
}
