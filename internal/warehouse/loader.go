package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"shopetl/internal/artifact"
	"shopetl/internal/metrics"
	"shopetl/internal/normalize"
	"shopetl/internal/sheets"
	"shopetl/models"
)

// ChunkSize is the number of rows per insert
const ChunkSize = 1000

// sheet header -> column, per workbook sheet
var sheetColumns = map[string]map[string]string{
	"WG1": {
		"Code":                "code",
		"Beschreibung":        "beschreibung",
		"Beschreibung Export": "beschreibung_export",
	},
	"WG2": {
		"Code":                "code",
		"Beschreibung":        "beschreibung",
		"Beschreibung Export": "beschreibung_export",
		"Artikelrabattgruppe": "artikelrabattgruppe",
	},
}

// Loader moves canonical files into a Sink: truncate, then chunked inserts
type Loader struct {
	sink      Sink
	layout    artifact.Layout
	coercer   normalize.Coercer
	metrics   *metrics.Recorder
	chunkSize int
}

func NewLoader(sink Sink, layout artifact.Layout, rec *metrics.Recorder) *Loader {
	return &Loader{
		sink:      sink,
		layout:    layout,
		coercer:   normalize.Coercer{Metrics: rec},
		metrics:   rec,
		chunkSize: ChunkSize,
	}
}

// LoadRows replaces the table's content with rows, unless truncate is false.
// A failing chunk is retried row by row; the count of inserted rows is returned.
func (l *Loader) LoadRows(ctx context.Context, s normalize.TableSchema, rows []normalize.TypedRow, truncate bool) (int, error) {
	if err := l.sink.EnsureTable(ctx, s); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", s.Table, err)
	}
	if truncate {
		if err := l.sink.Truncate(ctx, s.Table); err != nil {
			return 0, fmt.Errorf("failed to truncate %s: %w", s.Table, err)
		}
	}

	inserted, failed := 0, 0
	for start := 0; start < len(rows); start += l.chunkSize {
		end := min(start+l.chunkSize, len(rows))
		chunk := make([][]any, 0, end-start)
		for _, r := range rows[start:end] {
			chunk = append(chunk, r.Values(s))
		}

		err := l.sink.InsertRows(ctx, s, chunk)
		if err == nil {
			inserted += len(chunk)
			continue
		}
		if ctx.Err() != nil {
			return inserted, ctx.Err()
		}

		slog.Warn("Chunk insert failed, inserting row by row", "table", s.Table, "from", start, "rows", len(chunk), "error", err)
		for i, row := range chunk {
			if err := l.sink.InsertRows(ctx, s, [][]any{row}); err != nil {
				slog.Error("Row rejected", "table", s.Table, "row", start+i, "error", err)
				failed++
				continue
			}
			inserted++
		}
	}

	l.metrics.RowsLoaded(s.Table, inserted)
	if failed > 0 {
		slog.Warn("Table loaded with rejected rows", "table", s.Table, "inserted", inserted, "rejected", failed)
	} else {
		slog.Info("✓ Table loaded", "table", s.Table, "rows", inserted)
	}
	return inserted, nil
}

// LoadFile loads a canonical file into its table
func (l *Loader) LoadFile(ctx context.Context, s normalize.TableSchema, path string, truncate bool) (int, error) {
	rows, err := l.coercer.ReadCanonical(path, s)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	slog.Info("Loading file", "table", s.Table, "file", path, "rows", len(rows))
	return l.LoadRows(ctx, s, rows, truncate)
}

// ResolveOrderFile picks the file to load for a report type: the override when
// set, else {type}_all.csv, else the most recently modified {type}_*.csv.
func ResolveOrderFile(layout artifact.Layout, rt models.ReportType, override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("order file override: %w", err)
		}
		return override, nil
	}

	dir := layout.Processed(string(rt))
	all := filepath.Join(dir, string(rt)+"_all.csv")
	if _, err := os.Stat(all); err == nil {
		return all, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, string(rt)+"_*.csv"))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no processed %s files in %s: %w", rt, dir, os.ErrNotExist)
	}
	sort.Slice(files, func(i, j int) bool { return modTime(files[i]) > modTime(files[j]) })
	return files[0], nil
}

func modTime(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.ModTime().UnixNano()
}

// LoadOrders loads the three report tables. overrides maps report type to a file.
func (l *Loader) LoadOrders(ctx context.Context, overrides map[models.ReportType]string, truncate bool) (map[string]int, error) {
	counts := map[string]int{}
	var result *multierror.Error
	for _, rt := range models.ReportTypes {
		path, err := ResolveOrderFile(l.layout, rt, overrides[rt])
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", rt, err))
			continue
		}
		n, err := l.LoadFile(ctx, normalize.ForReport(rt), path, truncate)
		counts[string(rt)] = n
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			result = multierror.Append(result, fmt.Errorf("%s: %w", rt, err))
		}
	}
	return counts, result.ErrorOrNil()
}

// LoadProcessed loads a single-file table such as barcodes or matchcodes.
// A missing file is skipped with a warning.
func (l *Loader) LoadProcessed(ctx context.Context, s normalize.TableSchema, truncate bool) (int, error) {
	path := l.layout.Processed(s.Table, s.Table+".csv")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("Processed file not found, table skipped", "table", s.Table, "file", path)
		return 0, nil
	}
	return l.LoadFile(ctx, s, path, truncate)
}

// LoadSheets loads the WG1 and WG2 sheets of src into tables wg1 and wg2
func (l *Loader) LoadSheets(ctx context.Context, src sheets.Source, truncate bool) (map[string]int, error) {
	counts := map[string]int{}
	var result *multierror.Error

	available := map[string]bool{}
	for _, n := range src.SheetNames() {
		available[n] = true
	}

	for _, s := range []normalize.TableSchema{normalize.WG1, normalize.WG2} {
		sheet := strings.ToUpper(s.Table)
		if !available[sheet] {
			result = multierror.Append(result, fmt.Errorf("sheet %s not found", sheet))
			continue
		}
		raw, err := src.ReadSheet(sheet)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		rows, err := l.sheetRows(s, sheet, raw)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		n, err := l.LoadRows(ctx, s, rows, truncate)
		counts[s.Table] = n
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return counts, result.ErrorOrNil()
}

func (l *Loader) sheetRows(s normalize.TableSchema, sheet string, raw []map[string]string) ([]normalize.TypedRow, error) {
	mapping := sheetColumns[sheet]
	if len(raw) > 0 {
		var missing []string
		for header := range mapping {
			if _, ok := raw[0][header]; !ok {
				missing = append(missing, header)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("sheet %s lacks headers %s", sheet, strings.Join(missing, ", "))
		}
	}

	rows := make([]normalize.TypedRow, 0, len(raw))
	for _, r := range raw {
		mapped := make(map[string]string, len(mapping))
		for header, col := range mapping {
			mapped[col] = r[header]
		}
		rows = append(rows, l.coercer.CoerceRow(s, mapped))
	}
	return rows, nil
}

// Optimize runs the sink's table maintenance on every table, collecting errors
func (l *Loader) Optimize(ctx context.Context, tables []string) error {
	var result *multierror.Error
	for _, t := range tables {
		if err := l.sink.Optimize(ctx, t); err != nil {
			result = multierror.Append(result, fmt.Errorf("optimize %s: %w", t, err))
		}
	}
	return result.ErrorOrNil()
}
