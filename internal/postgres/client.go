package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shopetl/config"
	"shopetl/internal/normalize"
)

// Client is the PostgreSQL warehouse sink
type Client struct {
	db *gorm.DB
}

func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	return &Client{db: db}, nil
}

// NewFromDB wraps an open gorm handle
func NewFromDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

func (c *Client) DB() *gorm.DB {
	return c.db
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnType(t normalize.ColumnType) string {
	switch t {
	case normalize.TypeBool:
		return "BOOLEAN"
	case normalize.TypeInteger:
		return "BIGINT"
	case normalize.TypeDecimal:
		return "NUMERIC(18,6)"
	case normalize.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// CreateTableSQL is the DDL of one output table
func CreateTableSQL(s normalize.TableSchema) string {
	defs := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		defs[i] = fmt.Sprintf("    %s %s", quote(col.Name), columnType(col.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", quote(s.Table), strings.Join(defs, ",\n"))
}

func (c *Client) EnsureTable(ctx context.Context, s normalize.TableSchema) error {
	return c.db.WithContext(ctx).Exec(CreateTableSQL(s)).Error
}

func (c *Client) Truncate(ctx context.Context, table string) error {
	return c.db.WithContext(ctx).Exec("TRUNCATE TABLE " + quote(table)).Error
}

// InsertRows sends rows as one multi-row INSERT
func (c *Client) InsertRows(ctx context.Context, s normalize.TableSchema, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		cols[i] = quote(col.Name)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"

	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		tuples[i] = placeholder
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quote(s.Table), strings.Join(cols, ","), strings.Join(tuples, ","))
	if err := c.db.WithContext(ctx).Exec(query, args...).Error; err != nil {
		return fmt.Errorf("failed to insert into %s: %w", s.Table, err)
	}
	return nil
}

func (c *Client) Optimize(ctx context.Context, table string) error {
	return c.db.WithContext(ctx).Exec("ANALYZE " + quote(table)).Error
}
