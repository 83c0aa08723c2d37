package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"shopetl/internal/normalize"
)

func setupMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	})
	return NewFromDB(gormDB), mock
}

func TestCreateTableSQL(t *testing.T) {
	ddl := CreateTableSQL(normalize.Matchcodes)
	require.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "matchcodes"`))
	require.Contains(t, ddl, `"variation_default_category_manually" BIGINT`)
	require.Contains(t, ddl, `"item_manufacturer_name" TEXT`)

	ddl = CreateTableSQL(normalize.Orders)
	require.Contains(t, ddl, `"o_referrer" NUMERIC(18,6)`)
	require.Contains(t, ddl, `"o_is_b2b" BOOLEAN`)
	require.Contains(t, ddl, `"o_paid_at" TIMESTAMPTZ`)
}

func TestInsertRows(t *testing.T) {
	c, mock := setupMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "barcodes" ("variation_id","wg1","wg2") VALUES ($1,$2,$3),($4,$5,$6)`)).
		WithArgs("1", "A", nil, "2", nil, "B").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := c.InsertRows(context.Background(), normalize.Barcodes, [][]any{
		{"1", "A", nil},
		{"2", nil, "B"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsError(t *testing.T) {
	c, mock := setupMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "wg1"`)).
		WillReturnError(errors.New("duplicate key"))

	err := c.InsertRows(context.Background(), normalize.WG1, [][]any{{"1", "a", "b"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "wg1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateEnsureOptimize(t *testing.T) {
	c, mock := setupMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "orderItems"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE TABLE "orderItems"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ANALYZE "orderItems"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, c.EnsureTable(ctx, normalize.OrderItems))
	require.NoError(t, c.Truncate(ctx, "orderItems"))
	require.NoError(t, c.Optimize(ctx, "orderItems"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsEmpty(t *testing.T) {
	c, mock := setupMock(t)
	require.NoError(t, c.InsertRows(context.Background(), normalize.WG1, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
