package sheets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"shopetl/internal/normalize"
)

// ErrNoSheetSource is returned by Open when neither the workbook nor both CSV files exist
var ErrNoSheetSource = errors.New("no workbook or csv pair found")

// Source yields header-keyed rows per sheet
type Source interface {
	SheetNames() []string
	ReadSheet(name string) ([]map[string]string, error)
	Close() error
}

// Open prefers the workbook at xlsxPath and falls back to the WG1/WG2 CSV files
func Open(xlsxPath, wg1CSV, wg2CSV string) (Source, error) {
	if fileExists(xlsxPath) {
		return OpenWorkbook(xlsxPath)
	}
	if fileExists(wg1CSV) && fileExists(wg2CSV) {
		return NewCSVPair(wg1CSV, wg2CSV), nil
	}
	return nil, fmt.Errorf("%s, %s, %s: %w", xlsxPath, wg1CSV, wg2CSV, ErrNoSheetSource)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Workbook reads sheets from an xlsx file
type Workbook struct {
	f *excelize.File
}

func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return &Workbook{f: f}, nil
}

func (w *Workbook) SheetNames() []string { return w.f.GetSheetList() }

func (w *Workbook) ReadSheet(name string) ([]map[string]string, error) {
	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	out := make([]map[string]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		m := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(r) {
				m[h] = r[i]
			} else {
				m[h] = ""
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (w *Workbook) Close() error { return w.f.Close() }

func blank(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CSVPair serves sheets WG1 and WG2 from two comma-separated files
type CSVPair struct {
	paths map[string]string
}

func NewCSVPair(wg1, wg2 string) *CSVPair {
	return &CSVPair{paths: map[string]string{"WG1": wg1, "WG2": wg2}}
}

func (c *CSVPair) SheetNames() []string { return []string{"WG1", "WG2"} }

func (c *CSVPair) ReadSheet(name string) ([]map[string]string, error) {
	path, ok := c.paths[name]
	if !ok {
		return nil, fmt.Errorf("sheet %s not found", name)
	}
	recs, err := normalize.ReadCSVFile(path, ',')
	if err != nil {
		return nil, err
	}
	return recs.Rows, nil
}

func (c *CSVPair) Close() error { return nil }
