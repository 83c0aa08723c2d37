package normalize

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"shopetl/internal/metrics"
)

// DateTimeLayout is the local part of report timestamps, followed by a space and a zone name
const DateTimeLayout = "01/02/2006 15:04:05"

var trueStrings = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}

// Coercer converts raw values into typed values. The zero value is ready to use.
type Coercer struct {
	Metrics *metrics.Recorder
}

// Coerce converts raw using a zero Coercer
func Coerce(s TableSchema, column string, raw any) any {
	return Coercer{}.Coerce(s, column, raw)
}

// CoerceRow converts a raw record using a zero Coercer
func CoerceRow(s TableSchema, raw map[string]string) TypedRow {
	return Coercer{}.CoerceRow(s, raw)
}

// Coerce converts raw into the declared type of column. It never fails: empty
// input gives nil and unparseable input falls back to "", false, 0, 0.0 or nil.
func (c Coercer) Coerce(s TableSchema, column string, raw any) any {
	if raw == nil {
		return nil
	}
	if str, ok := raw.(string); ok && strings.TrimSpace(str) == "" {
		return nil
	}

	typ, ok := s.TypeOf(column)
	if !ok {
		slog.Error("unknown column", "table", s.Table, "column", column)
		c.Metrics.CoercionFailure(s.Table, column)
		return nil
	}

	v, err := convert(typ, raw)
	if err != nil {
		slog.Error("coercion failed", "table", s.Table, "column", column, "value", raw, "error", err)
		c.Metrics.CoercionFailure(s.Table, column)
		return fallback(typ)
	}
	return v
}

// CoerceRow returns a row holding every schema column, nil where raw has no value
func (c Coercer) CoerceRow(s TableSchema, raw map[string]string) TypedRow {
	row := make(TypedRow, len(s.Columns))
	for _, col := range s.Columns {
		v, ok := raw[col.Name]
		if !ok {
			row[col.Name] = nil
			continue
		}
		row[col.Name] = c.Coerce(s, col.Name, v)
	}
	return row
}

func convert(typ ColumnType, raw any) (any, error) {
	switch typ {
	case TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return trueStrings[strings.ToLower(strings.TrimSpace(v))], nil
		default:
			return trueStrings[strings.ToLower(fmt.Sprint(v))], nil
		}

	case TypeInteger:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case float32:
			return int64(v), nil
		case decimal.Decimal:
			return v.IntPart(), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		default:
			return nil, fmt.Errorf("cannot convert %T to integer", raw)
		}

	case TypeDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case decimal.Decimal:
			f, _ := v.Float64()
			return f, nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			f, _ := d.Float64()
			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to decimal", raw)
		}

	case TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := ParseTimestamp(v)
			if err != nil {
				// malformed timestamps are nil, which is also the fallback
				return nil, err
			}
			return t, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to timestamp", raw)
		}

	default:
		slog.Warn("unknown column type, using string", "type", typ)
		return convert(TypeString, raw)
	}
}

func fallback(typ ColumnType) any {
	switch typ {
	case TypeString:
		return ""
	case TypeBool:
		return false
	case TypeInteger:
		return int64(0)
	case TypeDecimal:
		return 0.0
	default:
		return nil
	}
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

func loadLocation(name string) (*time.Location, error) {
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locCache[name] = loc
	return loc, nil
}

// ParseTimestamp parses "MM/DD/YYYY HH:MM:SS Zone", where Zone is an IANA name
// such as UTC or Europe/Berlin.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("timestamp %q has no zone", s)
	}
	loc, err := loadLocation(s[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	t, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(s[:i]), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders t so that ParseTimestamp returns the same instant and zone
func FormatTimestamp(t time.Time) string {
	return t.Format(DateTimeLayout) + " " + t.Location().String()
}
