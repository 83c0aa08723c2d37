package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"shopetl/config"
	"shopetl/internal/artifact"
	"shopetl/internal/httpclient"
	"shopetl/internal/metrics"
	"shopetl/internal/plenty"
	"shopetl/internal/runstatus"
	"shopetl/internal/workers"
	"shopetl/models"
)

type fetchOptions struct {
	days          int
	allHistorical bool
	startDate     string
	skipBarcodes  bool
	skipOrders    bool
	skipExternal  bool
}

var fetchOpts fetchOptions

func init() {
	flags := fetchCmd.Flags()
	flags.IntVarP(&fetchOpts.days, "days", "d", 1, "Number of days before today to fetch.")
	flags.BoolVar(&fetchOpts.allHistorical, "all-historical", false, "Fetch every date back to --start-date.")
	flags.StringVar(&fetchOpts.startDate, "start-date", workers.DefaultHistoricalStart.Format(time.DateOnly), "First date of a historical fetch (YYYY-MM-DD).")
	flags.BoolVar(&fetchOpts.skipBarcodes, "skip-barcodes", false, "Do not fetch variation barcodes.")
	flags.BoolVar(&fetchOpts.skipOrders, "skip-orders", false, "Do not fetch order reports.")
	flags.BoolVar(&fetchOpts.skipExternal, "skip-external", false, "Do not download the external CSV.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch CONFIG [--days N] [--all-historical [--start-date YYYY-MM-DD]] [--skip-barcodes] [--skip-orders] [--skip-external]",
	Short: "Fetches barcodes, order reports and the external CSV from the shop API.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd.Context(), fetchStage(args[0], layout(), fetchOpts))
	},
}

func fetchStage(configPath string, l artifact.Layout, opts fetchOptions) stage {
	var start time.Time
	return stage{
		name:       models.StageFetch,
		statusDir:  l.DataDir,
		configPath: configPath,
		validate: func(cfg *config.Config) error {
			if err := cfg.ValidateShop(); err != nil {
				return err
			}
			var err error
			if start, err = time.Parse(time.DateOnly, opts.startDate); err != nil {
				return fmt.Errorf("invalid --start-date: %w", err)
			}
			return nil
		},
		run: func(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run) error {
			return fetch(ctx, cfg, rec, run, l, opts, start)
		},
	}
}

// fatalFetch reports errors after which no later fetch step can succeed
func fatalFetch(err error) bool {
	return errors.Is(err, workers.ErrBarcodeGroupMissing) || errors.Is(err, plenty.ErrUnauthorized)
}

func fetch(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run,
	l artifact.Layout, opts fetchOptions, start time.Time) error {
	hopts := httpclient.DefaultOptions()
	hopts.Timeout = cfg.Fetch.RequestTimeout
	hopts.Throttle = cfg.Fetch.Throttle
	hopts.Metrics = rec

	api := plenty.NewClient(httpclient.New(hopts), plenty.BaseURLFor(cfg.Shop.URLMain))
	env := workers.NewEnv(api, l, cfg.Shop.ShopID)
	env.Metrics = rec

	if err := workers.Authenticate(ctx, env, cfg.Shop.Username, cfg.Shop.Password); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	slog.Info("✓ Authenticated", "shop", cfg.Shop.URLMain)

	var result *multierror.Error

	if opts.skipBarcodes {
		run.Skip("barcodes")
	} else {
		n, err := workers.NewBarcodeWorker(env, cfg.Fetch.Workers).Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if fatalFetch(err) {
				return fmt.Errorf("barcodes: %w", err)
			}
			slog.Error("❌ Barcode fetch failed", "error", err)
			result = multierror.Append(result, fmt.Errorf("barcodes: %w", err))
		}
		run.Count("barcode_entries", n)
	}

	if opts.skipOrders {
		run.Skip("orders")
	} else {
		runner := workers.NewRunner(env, workers.NewOrderWorker(env))
		var (
			res workers.Result
			err error
		)
		if opts.allHistorical {
			res, err = runner.FetchHistorical(ctx, start)
		} else {
			res, err = runner.FetchRecentDays(ctx, opts.days)
		}
		run.Count("days_fetched", res.Fetched)
		run.Count("days_skipped", res.Skipped)
		run.Count("days_failed", res.Failed)
		if err != nil {
			return fmt.Errorf("orders: %w", err)
		}
	}

	switch {
	case opts.skipExternal:
		run.Skip("external")
	case cfg.Misc.ExternalCSV == "":
		slog.Info("No external CSV configured")
		run.Skip("external")
	default:
		meta, err := workers.NewExternalWorker(env).Fetch(ctx, cfg.Misc.ExternalCSV)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Error("❌ External CSV download failed", "error", err)
			result = multierror.Append(result, fmt.Errorf("external: %w", err))
		}
		run.Count("external_bytes", meta.SizeBytes)
	}

	return result.ErrorOrNil()
}
