package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"shopetl/internal/artifact"
	"shopetl/models"
)

var (
	pageNumber = regexp.MustCompile(`_page_(\d+)`)
	dateDir    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// external CSV header -> matchcodes column
var matchcodeSource = map[string]string{
	"Variation.id":                        "variation_id",
	"Variation.number":                    "variation_number",
	"Variation.name":                      "variation_name",
	"ItemDescription.name":                "item_description_name",
	"VariationDefaultCategory.branchName": "variation_default_category_branch_name",
	"VariationDefaultCategory.manually":   "variation_default_category_manually",
	"VariationBundle.components":          "variation_bundle_components",
	"Item.manufacturerName":               "item_manufacturer_name",
}

var requiredExternal = []string{
	"Variation.id", "Variation.number", "Variation.name",
	"ItemDescription.name", "VariationDefaultCategory.branchName",
}

// Processor turns fetched artifacts into canonical per-table files
type Processor struct {
	Layout  artifact.Layout
	Coercer Coercer
	Now     func() time.Time
}

func NewProcessor(layout artifact.Layout, c Coercer) *Processor {
	return &Processor{Layout: layout, Coercer: c, Now: time.Now}
}

// DateDirs lists the fetched date directories, newest first, limited to days when days > 0
func (p *Processor) DateDirs(days int) ([]string, error) {
	entries, err := os.ReadDir(p.Layout.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p.Layout.DataDir, err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() && dateDir.MatchString(e.Name()) {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if days > 0 && len(dates) > days {
		dates = dates[:days]
	}
	return dates, nil
}

// ProcessOrders writes one canonical file per date plus {type}_all.csv.
// It returns the total row count.
func (p *Processor) ProcessOrders(rt models.ReportType, dates []string) (int, error) {
	s := ForReport(rt)
	outDir := p.Layout.Processed(string(rt))

	var all []TypedRow
	for _, date := range dates {
		rows, err := p.readDate(s, rt, date)
		if err != nil {
			slog.Error("Failed to process date", "type", rt, "date", date, "error", err)
			continue
		}
		if len(rows) == 0 {
			slog.Warn("No rows for date", "type", rt, "date", date)
			continue
		}
		if err := p.writeTable(outDir, fmt.Sprintf("%s_%s", rt, date), s, rows); err != nil {
			return len(all), err
		}
		all = append(all, rows...)
	}

	if len(all) == 0 {
		slog.Warn("No rows found", "type", rt)
		return 0, nil
	}
	if err := p.writeTable(outDir, fmt.Sprintf("%s_all", rt), s, all); err != nil {
		return len(all), err
	}
	slog.Info("✓ Report processed", "type", rt, "dates", len(dates), "rows", len(all))
	return len(all), nil
}

func (p *Processor) readDate(s TableSchema, rt models.ReportType, date string) ([]TypedRow, error) {
	files, err := filepath.Glob(filepath.Join(p.Layout.DateDir(date), string(rt)+"_page_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return pageOf(files[i]) < pageOf(files[j]) })

	var rows []TypedRow
	for _, f := range files {
		recs, err := ReadCSVFile(f, ',')
		if err != nil {
			slog.Error("Unreadable page file", "file", f, "error", err)
			continue
		}
		for _, r := range recs.Rows {
			rows = append(rows, p.Coercer.CoerceRow(s, r))
		}
	}
	return rows, nil
}

func pageOf(path string) int {
	m := pageNumber.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ProcessBarcodes keeps the variations that carry a WG1 or WG2 code
func (p *Processor) ProcessBarcodes() (int, error) {
	path := p.Layout.Path("all_variation_barcodes.json")
	var summary models.VariationBarcodeSummary
	err := artifact.ReadJSON(path, &summary)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Barcode summary not found", "file", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read barcodes: %w", err)
	}

	var rows []TypedRow
	for _, e := range summary.Entries {
		if e.WG1 == nil && e.WG2 == nil {
			continue
		}
		rows = append(rows, TypedRow{
			"variation_id": strconv.FormatInt(e.VariationID, 10),
			"wg1":          optional(e.WG1),
			"wg2":          optional(e.WG2),
		})
	}
	slog.Info("Barcode entries filtered", "total", len(summary.Entries), "kept", len(rows))
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows), p.writeTable(p.Layout.Processed("barcodes"), "barcodes", Barcodes, rows)
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// ProcessExternal maps the ;-separated external CSV onto the matchcodes table
func (p *Processor) ProcessExternal() (int, error) {
	path := p.Layout.Path("external_data.csv")
	recs, err := ReadCSVFile(path, ';')
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("External CSV not found", "file", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool, len(recs.Header))
	for _, h := range recs.Header {
		present[h] = true
	}
	var missing []string
	for _, h := range requiredExternal {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		slog.Warn("External CSV lacks columns", "missing", strings.Join(missing, ","))
	}

	rows := make([]TypedRow, 0, len(recs.Rows))
	for _, r := range recs.Rows {
		mapped := make(map[string]string, len(matchcodeSource))
		for src, dst := range matchcodeSource {
			if v, ok := r[src]; ok {
				mapped[dst] = v
			}
		}
		rows = append(rows, p.Coercer.CoerceRow(Matchcodes, mapped))
	}
	slog.Info("External CSV processed", "rows", len(rows), "encoding", recs.Encoding)
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows), p.writeTable(p.Layout.Processed("matchcodes"), "matchcodes", Matchcodes, rows)
}

func (p *Processor) writeTable(dir, base string, s TableSchema, rows []TypedRow) error {
	path := filepath.Join(dir, base+".csv")
	if err := WriteCanonical(path, s, rows); err != nil {
		return err
	}
	meta := models.ProcessedFileMetadata{
		Type:      s.Table,
		RowCount:  len(rows),
		Columns:   s.Names(),
		FilePath:  path,
		CreatedAt: p.Now().Format(time.RFC3339),
	}
	return artifact.WriteJSON(filepath.Join(dir, base+"_metadata.json"), meta)
}
