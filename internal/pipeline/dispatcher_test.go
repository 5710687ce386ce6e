package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/syncstate"
)

func record(id string, minutes int) domain.Record {
	return domain.Record{ID: id, Stream: domain.StreamAudits, ModifiedAt: at(minutes)}
}

func TestDispatcher_OrderAndCommit(t *testing.T) {
	store := syncstate.New(t.TempDir(), "test")
	_, err := store.Defer("r0", "other")
	require.NoError(t, err)

	var calls []string
	jsonSink := &recordingSink{format: export.FormatJSON, log: &calls}
	csvSink := &recordingSink{format: export.FormatCSV, log: &calls, errs: map[string]error{"r2": errors.New("disk full")}}
	sqlSink := &flushingSink{recordingSink: recordingSink{format: export.FormatSQL, log: &calls}}
	actions := &recordingSink{format: export.FormatActions, log: &calls}

	d := NewDispatcher([]export.Sink{jsonSink, csvSink, actions, sqlSink}, store, quietLogger())
	out, err := d.Process(context.Background(), domain.StreamAudits,
		[]domain.Record{record("r0", 90), record("r1", 5), record("r2", 7)}, []string{"r0"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"json:r0", "csv:r0", "sql:r0",
		"json:r1", "csv:r1", "sql:r1",
		"json:r2", "csv:r2", "sql:r2",
	}, calls)
	assert.Empty(t, actions.exported())
	assert.Equal(t, 1, sqlSink.flushes)
	assert.Equal(t, 3, out.Exported)
	assert.Equal(t, 1, out.SinkFailures[export.FormatCSV])
	assert.Equal(t, 1, out.Failures())
	assert.Equal(t, 1, out.Cleared)

	// The retried record is newer but does not move the cursor.
	assert.True(t, out.MaxModified.Equal(at(7)))
	cursor, err := store.Cursor(domain.StreamAudits)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(at(7)))

	deferred, err := store.Deferred()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, deferred)
}

func TestDispatcher_FatalErrorCommitsNothing(t *testing.T) {
	store := syncstate.New(t.TempDir(), "test")
	_, err := store.Defer("r1")
	require.NoError(t, err)

	failing := &recordingSink{format: export.FormatJSON, errs: map[string]error{"r2": export.Fatal(errors.New("unwritable"))}}
	sqlSink := &flushingSink{recordingSink: recordingSink{format: export.FormatSQL}}
	d := NewDispatcher([]export.Sink{failing, sqlSink}, store, quietLogger())

	_, err = d.Process(context.Background(), domain.StreamAudits,
		[]domain.Record{record("r1", 1), record("r2", 2), record("r3", 3)}, []string{"r1"})
	require.Error(t, err)
	assert.True(t, export.IsFatal(err))
	assert.Equal(t, []string{"r1", "r2"}, failing.exported())
	assert.Zero(t, sqlSink.flushes)

	cursor, err := store.Cursor(domain.StreamAudits)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(syncstate.DefaultCursor))
	deferred, err := store.Deferred()
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, deferred)
}

func TestDispatcher_FlushFailureIsFatal(t *testing.T) {
	store := syncstate.New(t.TempDir(), "test")
	sqlSink := &flushingSink{recordingSink: recordingSink{format: export.FormatSQL}, flushErr: errors.New("deadlock")}
	d := NewDispatcher([]export.Sink{sqlSink}, store, quietLogger())

	_, err := d.Process(context.Background(), domain.StreamAudits, []domain.Record{record("r1", 1)}, nil)
	assert.True(t, export.IsFatal(err))
	cursor, err := store.Cursor(domain.StreamAudits)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(syncstate.DefaultCursor))
}

func TestDispatcher_CancelBetweenRecords(t *testing.T) {
	store := syncstate.New(t.TempDir(), "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{format: export.FormatJSON, onExport: func(id string) {
		if id == "r2" {
			cancel()
		}
	}}
	d := NewDispatcher([]export.Sink{sink}, store, quietLogger())
	_, err := d.Process(ctx, domain.StreamAudits, []domain.Record{record("r1", 1), record("r2", 2), record("r3", 3)}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, export.IsFatal(err))
	assert.Equal(t, []string{"r1"}, sink.exported())
	cursor, err := store.Cursor(domain.StreamAudits)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(syncstate.DefaultCursor))
}

func TestDispatcher_CursorNeverMovesBack(t *testing.T) {
	store := syncstate.New(t.TempDir(), "test")
	require.NoError(t, store.SetCursor(domain.StreamAudits, at(30)))
	d := NewDispatcher([]export.Sink{&recordingSink{format: export.FormatJSON}}, store, quietLogger())

	out, err := d.Process(context.Background(), domain.StreamAudits, []domain.Record{record("old", 10)}, nil)
	require.NoError(t, err)
	assert.True(t, out.Cursor.Equal(at(30)))

	cursor, err := store.Cursor(domain.StreamAudits)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(at(30)))
}
