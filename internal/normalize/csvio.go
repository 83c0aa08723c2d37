package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"shopetl/internal/artifact"
)

// Records is a decoded CSV file keyed by header
type Records struct {
	Header   []string
	Rows     []map[string]string
	Encoding string
}

// ReadCSVFile reads a delimited file, trying each encoding in DefaultEncodings
func ReadCSVFile(path string, comma rune) (*Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, enc, err := DecodeText(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	recs, err := ParseCSV(strings.NewReader(strings.TrimPrefix(text, "\ufeff")), comma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	recs.Encoding = enc
	return recs, nil
}

// ParseCSV reads a header line followed by records. Short records get empty
// values for the missing columns; extra fields are dropped.
func ParseCSV(r io.Reader, comma rune) (*Records, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Records{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	recs := &Records{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		recs.Rows = append(recs.Rows, row)
	}
	return recs, nil
}

// FormatValue renders a typed value for a canonical file; nil is the empty string
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return FormatTimestamp(x)
	default:
		return fmt.Sprint(x)
	}
}

// EncodeCanonical renders rows as RFC 4180 CSV with the schema columns as header
func EncodeCanonical(s TableSchema, rows []TypedRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.Names()); err != nil {
		return nil, err
	}
	rec := make([]string, len(s.Columns))
	for _, row := range rows {
		for i, c := range s.Columns {
			rec[i] = FormatValue(row[c.Name])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCanonical writes rows to path atomically
func WriteCanonical(path string, s TableSchema, rows []TypedRow) error {
	data, err := EncodeCanonical(s, rows)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.Table, err)
	}
	return artifact.WriteFile(path, data)
}

// ReadCanonical reads a canonical file back into typed rows
func (c Coercer) ReadCanonical(path string, s TableSchema) ([]TypedRow, error) {
	recs, err := ReadCSVFile(path, ',')
	if err != nil {
		return nil, err
	}
	rows := make([]TypedRow, 0, len(recs.Rows))
	for _, r := range recs.Rows {
		rows = append(rows, c.CoerceRow(s, r))
	}
	return rows, nil
}
