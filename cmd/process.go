package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"shopetl/config"
	"shopetl/internal/artifact"
	"shopetl/internal/metrics"
	"shopetl/internal/normalize"
	"shopetl/internal/runstatus"
	"shopetl/models"
)

type processOptions struct {
	days         int
	skipBarcodes bool
	skipOrders   bool
	skipExternal bool
}

var processOpts processOptions

func init() {
	flags := processCmd.Flags()
	flags.IntVarP(&processOpts.days, "days", "d", 0, "Only process the newest N date directories; 0 processes all.")
	flags.BoolVar(&processOpts.skipBarcodes, "skip-barcodes", false, "Do not process barcodes.")
	flags.BoolVar(&processOpts.skipOrders, "skip-orders", false, "Do not process order reports.")
	flags.BoolVar(&processOpts.skipExternal, "skip-external", false, "Do not process the external CSV.")
	rootCmd.AddCommand(processCmd)
}

var processCmd = &cobra.Command{
	Use:   "process [CONFIG] [--days N] [--skip-barcodes] [--skip-orders] [--skip-external]",
	Short: "Converts fetched artifacts into canonical typed CSV files.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		return runStage(cmd.Context(), processStage(path, layout(), processOpts))
	},
}

func processStage(configPath string, l artifact.Layout, opts processOptions) stage {
	return stage{
		name:       models.StageProcess,
		statusDir:  l.ProcessedDir,
		configPath: configPath,
		run: func(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run) error {
			return process(ctx, normalize.NewProcessor(l, normalize.Coercer{Metrics: rec}), run, opts)
		},
	}
}

func process(ctx context.Context, p *normalize.Processor, run *runstatus.Run, opts processOptions) error {
	if opts.skipOrders {
		run.Skip("orders")
	} else {
		dates, err := p.DateDirs(opts.days)
		if err != nil {
			return err
		}
		run.Count("dates", len(dates))
		for _, rt := range models.ReportTypes {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := p.ProcessOrders(rt, dates)
			if err != nil {
				return fmt.Errorf("%s: %w", rt, err)
			}
			run.Count(string(rt), n)
		}
	}

	if opts.skipBarcodes {
		run.Skip("barcodes")
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.ProcessBarcodes()
		if err != nil {
			return fmt.Errorf("barcodes: %w", err)
		}
		run.Count("barcodes", n)
	}

	if opts.skipExternal {
		run.Skip("external")
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.ProcessExternal()
		if err != nil {
			return fmt.Errorf("external: %w", err)
		}
		run.Count("matchcodes", n)
	}
	return nil
}
