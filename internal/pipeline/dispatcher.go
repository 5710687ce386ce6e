package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/export"
)

// StateStore persists cursors and the deferral log.
type StateStore interface {
	Cursor(stream domain.Stream) (time.Time, error)
	AdvanceCursor(stream domain.Stream, ts time.Time) (time.Time, error)
	Deferred() ([]string, error)
	Defer(ids ...string) (int, error)
	Clear(ids ...string) (int, error)
}

// Outcome summarizes one dispatched batch.
type Outcome struct {
	Exported     int
	SinkFailures map[export.Format]int
	// MaxModified is the newest modified_at among records that move the
	// cursor; zero when there were none.
	MaxModified time.Time
	// RetriedMax is the newest modified_at among exported records that came
	// from the deferral log.
	RetriedMax time.Time
	Cleared    int
	Cursor      time.Time
}

// Failures returns the total number of transient sink failures.
func (o Outcome) Failures() int {
	total := 0
	for _, n := range o.SinkFailures {
		total += n
	}
	return total
}

// Dispatcher hands records to the sinks and commits the batch.
type Dispatcher struct {
	sinks  []export.Sink
	store  StateStore
	logger *log.Logger
}

// NewDispatcher returns a Dispatcher over sinks, which must already be in
// dispatch order.
func NewDispatcher(sinks []export.Sink, store StateStore, logger *log.Logger) *Dispatcher {
	return &Dispatcher{sinks: sinks, store: store, logger: componentLogger(logger)}
}

// Process exports records to every sink of stream, flushes the batch sinks,
// clears retried IDs from the deferral log and advances the cursor. Records
// whose IDs are in retried were merged from the deferral log; they are
// cleared on success and do not move the cursor, since later batches of the
// same cycle may still hold older records.
//
// A fatal sink error or cancellation returns before anything is committed.
// Other sink errors are logged and counted.
func (d *Dispatcher) Process(ctx context.Context, stream domain.Stream, records []domain.Record, retried []string) (Outcome, error) {
	out := Outcome{SinkFailures: make(map[export.Format]int)}
	sinks := export.ForStream(d.sinks, stream)
	isRetry := make(map[string]bool, len(retried))
	for _, id := range retried {
		isRetry[id] = true
	}

	for _, sink := range sinks {
		if batch, ok := sink.(export.BatchSink); ok {
			batch.Reset()
		}
	}

	var exportedRetries []string
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, sink := range sinks {
			err := sink.Export(ctx, record)
			if err == nil {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return out, err
			}
			if export.IsFatal(err) {
				return out, fmt.Errorf("%s export of %s: %w", sink.Format(), record.ID, export.Fatal(err))
			}
			out.SinkFailures[sink.Format()]++
			d.logger.Printf("%s export of %s failed: %v", sink.Format(), record.ID, err)
		}
		out.Exported++
		if isRetry[record.ID] {
			exportedRetries = append(exportedRetries, record.ID)
			if record.ModifiedAt.After(out.RetriedMax) {
				out.RetriedMax = record.ModifiedAt
			}
			continue
		}
		if record.ModifiedAt.After(out.MaxModified) {
			out.MaxModified = record.ModifiedAt
		}
	}

	for _, sink := range sinks {
		batch, ok := sink.(export.BatchSink)
		if !ok {
			continue
		}
		if err := batch.Flush(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			return out, fmt.Errorf("%s flush: %w", sink.Format(), export.Fatal(err))
		}
	}

	if len(exportedRetries) > 0 {
		cleared, err := d.store.Clear(exportedRetries...)
		if err != nil {
			return out, export.Fatal(fmt.Errorf("clear deferral log: %w", err))
		}
		out.Cleared = cleared
	}
	if !out.MaxModified.IsZero() {
		cursor, err := d.store.AdvanceCursor(stream, out.MaxModified)
		if err != nil {
			return out, export.Fatal(fmt.Errorf("advance %s cursor: %w", stream, err))
		}
		out.Cursor = cursor
	}
	return out, nil
}

func componentLogger(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(os.Stderr, "[sync] ", log.LstdFlags)
}
