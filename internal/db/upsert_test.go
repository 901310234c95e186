package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "public.signals",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "public.signals",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "public.signals",
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
		{"public.signals", `"public"."signals"`},
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

func TestUpsertPlan(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "public.signals",
		Columns:      []string{"type", "source_id", "title", "processed"},
		ConflictKeys: []string{"type", "source_id"},
		UpdateCols:   []string{"title"},
	}
	p := cfg.plan()
	assert.Equal(t, pgx.Identifier{"_tmp_upsert_public_signals"}, p.stage)
	assert.Equal(t,
		`CREATE TEMP TABLE "_tmp_upsert_public_signals" (LIKE "public"."signals" INCLUDING DEFAULTS) ON COMMIT DROP`,
		p.create)
	assert.Equal(t,
		`INSERT INTO "public"."signals" ("type", "source_id", "title", "processed") SELECT "type", "source_id", "title", "processed"`+
			` FROM "_tmp_upsert_public_signals" ON CONFLICT ("type", "source_id") DO UPDATE SET "title" = EXCLUDED."title"`,
		p.merge)
}

func TestUpsertPlan_DefaultAndEmptyUpdateCols(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "signals",
		Columns:      []string{"id", "title", "summary"},
		ConflictKeys: []string{"id"},
	}
	assert.Equal(t, []string{"title", "summary"}, cfg.updateColumns())
	assert.Contains(t, cfg.plan().merge, `DO UPDATE SET "title" = EXCLUDED."title", "summary" = EXCLUDED."summary"`)

	cfg.UpdateCols = []string{}
	assert.True(t, strings.HasSuffix(cfg.plan().merge, `ON CONFLICT ("id") DO NOTHING`))
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "title"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_public_signals"}, cols).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "public.signals",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{{"a", "one"}, {"b", "two"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "title"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_public_signals"}, cols).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "public.signals",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{{"a", "one"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}
