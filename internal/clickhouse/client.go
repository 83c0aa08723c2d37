package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"shopetl/config"
	"shopetl/internal/normalize"
)

// Client is the ClickHouse warehouse sink
type Client struct {
	conn     driver.Conn
	database string
}

func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		DialTimeout:  time.Second * 30,
	}

	// TLS only on the secure native port
	if cfg.Port == 9440 || cfg.Port == 8443 {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{
		conn:     conn,
		database: cfg.Database,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) table(name string) string {
	return fmt.Sprintf("`%s`.`%s`", c.database, name)
}

func columnType(t normalize.ColumnType) string {
	switch t {
	case normalize.TypeBool:
		return "Nullable(Bool)"
	case normalize.TypeInteger:
		return "Nullable(Int64)"
	case normalize.TypeDecimal:
		return "Nullable(Decimal(18, 6))"
	case normalize.TypeTimestamp:
		return "Nullable(DateTime64(3, 'UTC'))"
	default:
		return "Nullable(String)"
	}
}

// CreateTableSQL is the DDL of one output table
func CreateTableSQL(database string, s normalize.TableSchema) string {
	defs := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		defs[i] = fmt.Sprintf("    `%s` %s", col.Name, columnType(col.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s`.`%s` (\n%s\n) ENGINE = MergeTree ORDER BY tuple()",
		database, s.Table, strings.Join(defs, ",\n"))
}

func (c *Client) EnsureTable(ctx context.Context, s normalize.TableSchema) error {
	return c.conn.Exec(ctx, CreateTableSQL(c.database, s))
}

func (c *Client) Truncate(ctx context.Context, table string) error {
	return c.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+c.table(table))
}

// InsertRows sends rows as one native batch
func (c *Client) InsertRows(ctx context.Context, s normalize.TableSchema, rows [][]any) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table(s.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", s.Table, err)
	}
	for _, row := range rows {
		if err := batch.Append(bindRow(s, row)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row to %s: %w", s.Table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch to %s: %w", s.Table, err)
	}
	return nil
}

// bindRow converts typed values to what the driver expects for each column
func bindRow(s normalize.TableSchema, row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if v == nil {
			out[i] = nil
			continue
		}
		switch s.Columns[i].Type {
		case normalize.TypeDecimal:
			if f, ok := v.(float64); ok {
				d := decimal.NewFromFloat(f)
				out[i] = &d
				continue
			}
		case normalize.TypeTimestamp:
			if t, ok := v.(time.Time); ok {
				ut := t.UTC()
				out[i] = &ut
				continue
			}
		}
		out[i] = v
	}
	return out
}

func (c *Client) Optimize(ctx context.Context, table string) error {
	return c.conn.Exec(ctx, "OPTIMIZE TABLE "+c.table(table)+" FINAL")
}
