package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shopetl/internal/normalize"
)

func TestCreateTableSQL(t *testing.T) {
	ddl := CreateTableSQL("shop", normalize.OrderItemAmounts)

	require.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS `shop`.`orderItemAmounts`"))
	require.Contains(t, ddl, "`oia_is_system_currency` Nullable(Bool)")
	require.Contains(t, ddl, "`oi_price_gross` Nullable(Decimal(18, 6))")
	require.Contains(t, ddl, "`oi_updated_at` Nullable(DateTime64(3, 'UTC'))")
	require.Contains(t, ddl, "ENGINE = MergeTree")

	// declaration order is kept
	require.Less(t, strings.Index(ddl, "`plenty_id`"), strings.Index(ddl, "`oia_id`"))
	require.Less(t, strings.Index(ddl, "`oi_exchange_rate`"), strings.Index(ddl, "`o_created_at`"))
}

func TestBindRow(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	ts := time.Date(2024, time.March, 1, 12, 0, 0, 0, berlin)

	row := normalize.TypedRow{
		"oia_id":         "5",
		"oi_price_gross": 19.99,
		"oi_updated_at":  ts,
	}.Values(normalize.OrderItemAmounts)

	out := bindRow(normalize.OrderItemAmounts, row)
	require.Equal(t, "5", out[1])
	require.Nil(t, out[0])

	d, ok := out[4].(*decimal.Decimal)
	require.True(t, ok)
	require.Equal(t, "19.99", d.String())

	bound, ok := out[9].(*time.Time)
	require.True(t, ok)
	require.Equal(t, time.UTC, bound.Location())
	require.True(t, bound.Equal(ts))
}
