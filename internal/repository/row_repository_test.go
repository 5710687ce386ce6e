package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/domain"
)

func openSQLite(t *testing.T) *db.Connection {
	t.Helper()
	conn, err := db.NewConnection(context.Background(), db.Config{
		Dialect: db.SQLite,
		DBName:  filepath.Join(t.TempDir(), "auditsync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newAuditRepo(t *testing.T, conn *db.Connection, mode KeyMode) RowRepository {
	t.Helper()
	repo := NewRowRepository(conn, AuditTable("iauditor_data", mode),
		WithTableCreation(CreateAllow), WithLogger(quietLogger()))
	require.NoError(t, repo.EnsureTable(context.Background()))
	return repo
}

func auditRows(auditID string, datePK int64, items ...string) []domain.Row {
	rows := make([]domain.Row, 0, len(items))
	for i, item := range items {
		rows = append(rows, domain.Row{
			"AuditID":      auditID,
			"ItemID":       item,
			"DatePK":       fmt.Sprint(datePK),
			"SortingIndex": fmt.Sprint(i + 1),
			"Label":        "label " + item,
			"Response":     fmt.Sprintf("v%d", datePK),
			"ItemScore":    "",
			"DateStarted":  "",
			"Mandatory":    "true",
		})
	}
	return rows
}

func countRows(t *testing.T, conn *db.Connection, where string, args ...any) int {
	t.Helper()
	query := `SELECT COUNT(*) FROM "iauditor_data"`
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, conn.DB.QueryRow(query, args...).Scan(&n))
	return n
}

func TestUpsert_MergeModeIsIdempotent(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)
	ctx := context.Background()
	rows := auditRows("audit_1", 1000, "i1", "i2", "i3")

	first, err := repo.Upsert(ctx, rows)
	require.NoError(t, err)
	assert.False(t, first.Merged, "first write into an empty table takes the bulk path")

	second, err := repo.Upsert(ctx, rows)
	require.NoError(t, err)
	assert.True(t, second.Merged, "second write must fall back to merging")
	assert.Equal(t, 3, countRows(t, conn, ""))
}

func TestUpsert_MergeModeReplacesOlderVersion(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, auditRows("audit_1", 1000, "i1"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, auditRows("audit_1", 2000, "i1"))
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, conn, ""))
	var response string
	var datePK int64
	require.NoError(t, conn.DB.QueryRow(`SELECT "Response", "DatePK" FROM "iauditor_data"`).Scan(&response, &datePK))
	assert.Equal(t, "v2000", response)
	assert.Equal(t, int64(2000), datePK)
}

func TestUpsert_HistoryModeAppendsVersions(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, History)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, auditRows("audit_1", 1000, "i1", "i2"))
	require.NoError(t, err)
	res, err := repo.Upsert(ctx, auditRows("audit_1", 2000, "i1", "i2"))
	require.NoError(t, err)
	assert.False(t, res.Merged)

	assert.Equal(t, 4, countRows(t, conn, ""))
	assert.Equal(t, 2, countRows(t, conn, `"DatePK" = ?`, 1000), "old version must remain queryable")

	res, err = repo.Upsert(ctx, auditRows("audit_1", 2000, "i1", "i2"))
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, 4, countRows(t, conn, ""))
}

func TestUpsert_PartialOverlapFallsBackForWholeBatch(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, auditRows("audit_1", 1000, "i1"))
	require.NoError(t, err)

	batch := append(auditRows("audit_1", 1500, "i1"), auditRows("audit_2", 1500, "i1", "i2")...)
	res, err := repo.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 3, countRows(t, conn, ""))
}

func TestUpsert_OtherErrorsSurfaceWithoutMerge(t *testing.T) {
	conn := openSQLite(t)
	_, err := conn.DB.Exec(`CREATE TABLE "iauditor_data" ("AuditID" TEXT, "ItemID" TEXT, "DatePK" INTEGER, PRIMARY KEY ("AuditID", "ItemID"))`)
	require.NoError(t, err)
	repo := NewRowRepository(conn, AuditTable("iauditor_data", Merge), WithLogger(quietLogger()))

	res, err := repo.Upsert(context.Background(), auditRows("audit_1", 1000, "i1", "i2"))
	require.Error(t, err)
	assert.False(t, conn.Dialect.IsUniqueViolation(err))
	assert.Contains(t, err.Error(), "failed to insert rows")
	assert.False(t, res.Merged)
	assert.Equal(t, 0, countRows(t, conn, ""))
}

func TestUpsert_FailedMergeCommitsNothing(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, auditRows("audit_1", 1000, "i1", "i2"))
	require.NoError(t, err)
	_, err = conn.DB.Exec(`CREATE TRIGGER lock_i2 BEFORE UPDATE ON "iauditor_data"
		WHEN NEW."ItemID" = 'i2' BEGIN SELECT RAISE(ABORT, 'i2 is locked'); END`)
	require.NoError(t, err)

	res, err := repo.Upsert(ctx, auditRows("audit_1", 2000, "i3", "i1", "i2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to merge rows")
	assert.False(t, res.Merged)

	assert.Equal(t, 2, countRows(t, conn, ""))
	assert.Equal(t, 0, countRows(t, conn, `"ItemID" = ?`, "i3"))
	assert.Equal(t, 2, countRows(t, conn, `"Response" = ?`, "v1000"), "merged rows before the failure must roll back")
}

func TestUpsert_CancelledContextCommitsNothing(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Upsert(ctx, auditRows("audit_1", 1000, "i1", "i2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, 0, countRows(t, conn, ""))
}

func TestUpsert_RejectsRowsWithoutKey(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, History)

	rows := auditRows("audit_1", 1000, "i1")
	rows[0]["DatePK"] = ""
	_, err := repo.Upsert(context.Background(), rows)
	assert.ErrorIs(t, err, ErrInvalidRow)
}

func TestUpsert_CoercesEmptyValuesToNull(t *testing.T) {
	conn := openSQLite(t)
	repo := newAuditRepo(t, conn, Merge)
	_, err := repo.Upsert(context.Background(), auditRows("audit_1", 1000, "i1"))
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, conn, `"ItemScore" IS NULL AND "DateStarted" IS NULL AND "Comment" IS NULL`))
	assert.Equal(t, 1, countRows(t, conn, `"Mandatory" = 1`))
}

type stubPrompter struct {
	answer bool
	asked  []string
}

func (p *stubPrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.asked = append(p.asked, question)
	return p.answer, nil
}

func TestEnsureTable_Policies(t *testing.T) {
	ctx := context.Background()

	t.Run("deny fails fast", func(t *testing.T) {
		conn := openSQLite(t)
		repo := NewRowRepository(conn, AuditTable("t", Merge), WithTableCreation(CreateDeny), WithLogger(quietLogger()))
		assert.ErrorIs(t, repo.EnsureTable(ctx), ErrTableMissing)
	})

	t.Run("prompt without terminal fails fast", func(t *testing.T) {
		conn := openSQLite(t)
		repo := NewRowRepository(conn, AuditTable("t", Merge), WithLogger(quietLogger()))
		assert.ErrorIs(t, repo.EnsureTable(ctx), ErrTableMissing)
	})

	t.Run("prompt declined", func(t *testing.T) {
		conn := openSQLite(t)
		prompter := &stubPrompter{answer: false}
		repo := NewRowRepository(conn, AuditTable("t", Merge), WithPrompter(prompter), WithLogger(quietLogger()))
		assert.ErrorIs(t, repo.EnsureTable(ctx), ErrTableMissing)
		require.Len(t, prompter.asked, 1)
		assert.True(t, strings.Contains(prompter.asked[0], `"t"`))
	})

	t.Run("prompt accepted creates once", func(t *testing.T) {
		conn := openSQLite(t)
		prompter := &stubPrompter{answer: true}
		repo := NewRowRepository(conn, ActionTable("actions", History), WithPrompter(prompter), WithLogger(quietLogger()))
		require.NoError(t, repo.EnsureTable(ctx))
		require.NoError(t, repo.EnsureTable(ctx))
		assert.Len(t, prompter.asked, 1)
	})
}

func TestTableCreationFor(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, CreatePrompt, TableCreationFor(nil))
	assert.Equal(t, CreateAllow, TableCreationFor(&yes))
	assert.Equal(t, CreateDeny, TableCreationFor(&no))
}
