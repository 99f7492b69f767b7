package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "public.place_contacts",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "public.place_contacts",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "public.place_contacts",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.places", `"public"."places"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"identity_key", "status"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_place_contacts" \(LIKE "place_contacts" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_place_contacts"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "place_contacts" \("identity_key", "status"\) SELECT "identity_key", "status" FROM "_tmp_upsert_place_contacts" ON CONFLICT \("identity_key"\) DO UPDATE SET "status" = EXCLUDED."status"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "place_contacts",
		Columns:      cols,
		ConflictKeys: []string{"identity_key"},
	}, [][]any{{"A", "OK"}, {"B", "NOT_FOUND"}})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_place_contacts"}, []string{"identity_key"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "place_contacts",
		Columns:      []string{"identity_key"},
		ConflictKeys: []string{"identity_key"},
		UpdateCols:   []string{},
	}, [][]any{{"A"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for place_contacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshColumns(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "place_contacts",
		Columns:      []string{"identity_key", "phones", "status"},
		ConflictKeys: []string{"identity_key"},
	}
	assert.Equal(t, []string{"phones", "status"}, refreshColumns(cfg))

	cfg.UpdateCols = []string{}
	assert.Empty(t, refreshColumns(cfg))
	assert.Equal(t, "DO NOTHING", conflictAction(refreshColumns(cfg)))
}

func TestConflictActionAndStagingTable(t *testing.T) {
	assert.Equal(t, `DO UPDATE SET "phones" = EXCLUDED."phones", "status" = EXCLUDED."status"`,
		conflictAction([]string{"phones", "status"}))
	assert.Equal(t, "_tmp_upsert_public_place_contacts", stagingTable("public.place_contacts"))
}
