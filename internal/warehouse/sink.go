package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shopetl/internal/httpclient"
	"shopetl/internal/normalize"
)

// Sink is a warehouse driver. Rows are passed in schema column order.
type Sink interface {
	EnsureTable(ctx context.Context, s normalize.TableSchema) error
	Truncate(ctx context.Context, table string) error
	InsertRows(ctx context.Context, s normalize.TableSchema, rows [][]any) error
	Optimize(ctx context.Context, table string) error
	Close() error
}

const (
	connectAttempts = 3
	connectWait     = 5 * time.Second
)

// Connect calls open up to three times, five seconds apart
func Connect(ctx context.Context, open func(ctx context.Context) (Sink, error), sleeper httpclient.Sleeper) (Sink, error) {
	if sleeper == nil {
		sleeper = httpclient.RealSleeper
	}
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		sink, err := open(ctx)
		if err == nil {
			return sink, nil
		}
		lastErr = err
		slog.Warn("Warehouse connection failed", "attempt", attempt, "error", err)
		if attempt < connectAttempts {
			if err := sleeper.Sleep(ctx, connectWait); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", connectAttempts, lastErr)
}
