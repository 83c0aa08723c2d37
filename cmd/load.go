package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"shopetl/config"
	"shopetl/internal/artifact"
	"shopetl/internal/clickhouse"
	"shopetl/internal/httpclient"
	"shopetl/internal/metrics"
	"shopetl/internal/normalize"
	"shopetl/internal/postgres"
	"shopetl/internal/runstatus"
	"shopetl/internal/sheets"
	"shopetl/internal/warehouse"
	"shopetl/models"
)

type loadOptions struct {
	skipBarcodes bool
	skipOrders   bool
	skipExternal bool
	skipExcel    bool
	skipTruncate bool
	skipOptimize bool
	ordersFile   string
	itemsFile    string
	amountsFile  string
}

var loadOpts loadOptions

func init() {
	flags := loadCmd.Flags()
	flags.BoolVar(&loadOpts.skipBarcodes, "skip-barcodes", false, "Do not load barcodes.")
	flags.BoolVar(&loadOpts.skipOrders, "skip-orders", false, "Do not load the order tables.")
	flags.BoolVar(&loadOpts.skipExternal, "skip-external", false, "Do not load matchcodes.")
	flags.BoolVar(&loadOpts.skipExcel, "skip-excel", false, "Do not load the WG1/WG2 sheets.")
	flags.BoolVar(&loadOpts.skipTruncate, "skip-truncate", false, "Append instead of replacing table content.")
	flags.BoolVar(&loadOpts.skipOptimize, "skip-optimize", false, "Skip table maintenance after loading.")
	flags.StringVar(&loadOpts.ordersFile, "orders-file", "", "Load orders from this file.")
	flags.StringVar(&loadOpts.itemsFile, "order-items-file", "", "Load order items from this file.")
	flags.StringVar(&loadOpts.amountsFile, "order-item-amounts-file", "", "Load order item amounts from this file.")
	rootCmd.AddCommand(loadCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load CONFIG [--skip-barcodes] [--skip-orders] [--skip-external] [--skip-excel] [--skip-truncate] [--skip-optimize]",
	Short: "Loads the processed files into the warehouse.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd.Context(), loadStage(args[0], layout(), loadOpts))
	},
}

func loadStage(configPath string, l artifact.Layout, opts loadOptions) stage {
	return stage{
		name:       models.StageLoad,
		statusDir:  filepath.Dir(configPath),
		configPath: configPath,
		run: func(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run) error {
			return load(ctx, cfg, rec, run, l, opts, openSink(cfg))
		},
	}
}

func openSink(cfg *config.Config) func(ctx context.Context) (warehouse.Sink, error) {
	return func(ctx context.Context) (warehouse.Sink, error) {
		switch cfg.Warehouse.Driver {
		case "postgres":
			c, err := postgres.NewClient(ctx, cfg.Postgres)
			if err != nil {
				return nil, err
			}
			return c, nil
		default:
			c, err := clickhouse.NewClient(ctx, cfg.ClickHouse)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
}

func load(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, run *runstatus.Run,
	l artifact.Layout, opts loadOptions, open func(ctx context.Context) (warehouse.Sink, error)) error {
	sink, err := warehouse.Connect(ctx, open, httpclient.RealSleeper)
	if err != nil {
		return err
	}
	defer sink.Close()
	slog.Info("✓ Connected to warehouse", "driver", cfg.Warehouse.Driver)

	loader := warehouse.NewLoader(sink, l, rec)
	truncate := !opts.skipTruncate
	var result *multierror.Error

	count := func(counts map[string]int) {
		for table, n := range counts {
			run.Count(table, n)
		}
	}

	if opts.skipOrders {
		run.Skip("orders")
	} else {
		overrides := map[models.ReportType]string{
			models.ReportOrders:           opts.ordersFile,
			models.ReportOrderItems:       opts.itemsFile,
			models.ReportOrderItemAmounts: opts.amountsFile,
		}
		counts, err := loader.LoadOrders(ctx, overrides, truncate)
		count(counts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result = multierror.Append(result, err)
		}
	}

	single := []struct {
		skip   bool
		name   string
		schema normalize.TableSchema
	}{
		{opts.skipBarcodes, "barcodes", normalize.Barcodes},
		{opts.skipExternal, "external", normalize.Matchcodes},
	}
	for _, t := range single {
		if t.skip {
			run.Skip(t.name)
			continue
		}
		n, err := loader.LoadProcessed(ctx, t.schema, truncate)
		run.Count(t.schema.Table, n)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result = multierror.Append(result, fmt.Errorf("%s: %w", t.schema.Table, err))
		}
	}

	if opts.skipExcel {
		run.Skip("excel")
	} else {
		src, err := sheets.Open(cfg.Misc.ExcelFile, l.Path("wg1.csv"), l.Path("wg2.csv"))
		switch {
		case errors.Is(err, sheets.ErrNoSheetSource):
			slog.Warn("No WG1/WG2 source found, sheets skipped", "excel_file", cfg.Misc.ExcelFile)
			run.Skip("excel")
		case err != nil:
			result = multierror.Append(result, err)
		default:
			counts, err := loader.LoadSheets(ctx, src, truncate)
			src.Close()
			count(counts)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result = multierror.Append(result, err)
			}
		}
	}

	if opts.skipOptimize {
		run.Skip("optimize")
	} else if err := ctx.Err(); err != nil {
		return err
	} else {
		if err := loader.Optimize(ctx, loadedTables(run)); err != nil {
			slog.Warn("Table maintenance failed", "error", err)
		}
	}

	return result.ErrorOrNil()
}

func loadedTables(run *runstatus.Run) []string {
	var tables []string
	for _, s := range normalize.All {
		if run.Counted(s.Table) > 0 {
			tables = append(tables, s.Table)
		}
	}
	sort.Strings(tables)
	return tables
}
