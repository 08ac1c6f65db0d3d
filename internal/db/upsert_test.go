package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"id-1", "run-1", "sephora", "product", []byte(`{}`)},
		{"id-2", "run-1", "sephora", "product", []byte(`{}`)},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"raw_records"},
		[]string{"id", "run_id", "site", "entity", "data"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "raw_records",
		[]string{"id", "run_id", "site", "entity", "data"}, rows)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_EmptyBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := CopyFrom(context.Background(), mock, "raw_records", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "products",
		Columns:      []string{"product_id", "scrape_ts", "site", "data"},
		ConflictKeys: []string{"product_id", "scrape_ts"},
	}
	rows := [][]any{
		{"P1", "2026-08-01T10:00:00Z", "sephora", []byte(`{}`)},
		{"P2", "2026-08-01T10:00:00Z", "sephora", []byte(`{}`)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_products"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_products"}, cfg.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "products" .* ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, cfg, rows)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{{"x"}}

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{Table: "t", ConflictKeys: []string{"k"}}, rows)
	assert.Error(t, err, "missing columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{Table: "t", Columns: []string{"c"}}, rows)
	assert.Error(t, err, "missing conflict keys")

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "empty batch short-circuits before validation")
}
