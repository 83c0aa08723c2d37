package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"shopetl/config"
	"shopetl/internal/artifact"
	"shopetl/internal/metrics"
	"shopetl/internal/rabbitmq"
	"shopetl/internal/runstatus"
	"shopetl/models"
	"shopetl/pkg/logger"
)

var (
	dataDir      string
	processedDir string
	logDir       string
	logLevel     string

	logCloser io.Closer
)

// log file per subcommand
var logNames = map[string]string{
	"fetch":   models.StageFetch,
	"process": models.StageProcess,
	"load":    models.StageLoad,
}

var rootCmd = &cobra.Command{
	Use:           "shopetl",
	Short:         "shopetl fetches shop reports, normalizes them and loads them into the warehouse.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		name, ok := logNames[cmd.Name()]
		if !ok {
			name = "shopetl"
		}
		closer, err := logger.Init(logLevel, logDir, name)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dataDir, "data-dir", "data", "Directory for raw fetch artifacts.")
	flags.StringVar(&processedDir, "processed-dir", "processed", "Directory for canonical processed files.")
	flags.StringVar(&logDir, "log-dir", "logs", "Directory for log files; empty logs to the console only.")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error.")
}

func closeLog() {
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

func layout() artifact.Layout {
	return artifact.Layout{DataDir: dataDir, ProcessedDir: processedDir}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// stage is one pipeline step run through runStage
type stage struct {
	name       string
	statusDir  string
	configPath string // empty uses defaults and the environment only
	// validate checks the loaded config before any work starts
	validate func(cfg *config.Config) error
	run      func(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run) error
}

// runStage loads the config and executes the stage. Every outcome, including an
// unreadable or invalid config, ends in a status artifact in statusDir; the
// artifact is published when RabbitMQ is configured and the metrics are pushed.
func runStage(ctx context.Context, st stage) error {
	rec := metrics.New()
	reporter := &runstatus.Reporter{Dir: st.statusDir, Metrics: rec}

	cfg, runErr := loadConfig(st.configPath)
	if runErr == nil && st.validate != nil {
		runErr = st.validate(cfg)
	}
	if cfg == nil {
		cfg = &config.Config{File: st.configPath}
	}

	if cfg.RabbitMQ.URL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ)
		if err != nil {
			slog.Warn("Status events disabled", "error", err)
		} else {
			defer pub.Close()
			reporter.Publisher = pub
			slog.Info("✓ Connected to RabbitMQ", "queue", cfg.RabbitMQ.StatusQueue)
		}
	}

	run := reporter.Start(st.name, st.configPath)
	if runErr != nil {
		slog.Error("❌ Configuration rejected", "stage", st.name, "config", st.configPath, "error", runErr)
	} else {
		slog.Info("🚀 Starting stage", "stage", st.name, "run_id", run.ID())
		runErr = st.run(ctx, cfg, rec, run)
	}

	status, err := run.Finish(ctx, runErr)
	if err != nil {
		slog.Error("Failed to write status file", "stage", st.name, "error", err)
	}

	if err := rec.Push(context.WithoutCancel(ctx), cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
		slog.Warn("Metrics push failed", "error", err)
	}

	if runErr == nil {
		slog.Info("✓ Stage finished", "stage", st.name, "runtime_seconds", status.RuntimeSeconds, "counts", status.Counts)
	}
	return runErr
}
