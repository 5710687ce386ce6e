package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/provider"
	"github.com/rpattn/auditsync/internal/syncstate"
)

// Settings tune a Runner.
type Settings struct {
	ChunkSize          int
	Workers            int
	MediaSyncOffset    time.Duration
	DedupWarnThreshold int
	Filters            Filters
}

// Reporter receives the report of every finished cycle.
type Reporter interface {
	Record(report domain.CycleReport)
}

// Runner drives discovery, retrieval and dispatch for each stream.
type Runner struct {
	settings   Settings
	store      StateStore
	actions    ActionSource
	discoverer *Discoverer
	loader     *recordLoader
	dispatcher *Dispatcher
	gate       Gate
	reporter   Reporter
	logger     *log.Logger
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the wall clock used for readiness and reports.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReporter sets who receives cycle reports.
func WithReporter(reporter Reporter) RunnerOption {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActions enables the actions stream.
func WithActions(source ActionSource) RunnerOption {
	return func(r *Runner) {
		r.actions = source
	}
}

// NewRunner wires a Runner. audits may be nil when only actions are synced.
func NewRunner(settings Settings, store StateStore, audits AuditSource, dispatcher *Dispatcher, opts ...RunnerOption) *Runner {
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = 100
	}
	r := &Runner{
		settings:   settings,
		store:      store,
		dispatcher: dispatcher,
		logger:     componentLogger(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.gate = NewGate(r.now)
	if audits != nil {
		r.discoverer = NewDiscoverer(audits, settings.Filters, settings.DedupWarnThreshold, r.logger)
		r.loader = newRecordLoader(audits, settings.Workers)
	}
	return r
}

// Cycle runs one pass over stream and returns its report. The report is
// also logged and handed to the Reporter, whether or not the cycle failed.
func (r *Runner) Cycle(ctx context.Context, stream domain.Stream) (domain.CycleReport, error) {
	report := domain.CycleReport{RunID: uuid.New(), Stream: stream, StartedAt: r.now().UTC()}

	var err error
	switch stream {
	case domain.StreamAudits:
		err = r.syncAudits(ctx, &report)
	case domain.StreamActions:
		err = r.syncActions(ctx, &report)
	default:
		err = fmt.Errorf("unknown stream %q", stream)
	}

	report.FinishedAt = r.now().UTC()
	if err != nil {
		report.Error = err.Error()
	}
	if cursor, cerr := r.store.Cursor(stream); cerr == nil {
		report.Cursor = cursor
	}
	r.logReport(report)
	if r.reporter != nil {
		r.reporter.Record(report)
	}
	return report, err
}

// Run performs one cycle per stream in order. A fatal error or cancellation
// stops it at once; other failures are joined and the remaining streams
// still run.
func (r *Runner) Run(ctx context.Context, streams []domain.Stream) error {
	var errs []error
	for _, stream := range streams {
		if _, err := r.Cycle(ctx, stream); err != nil {
			if export.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", stream, err))
		}
	}
	return errors.Join(errs...)
}

// Loop repeats Run every delay until ctx is cancelled or a fatal error
// occurs. Failed cycles that are not fatal are retried on the next tick.
// Cancellation returns nil.
func (r *Runner) Loop(ctx context.Context, streams []domain.Stream, delay time.Duration) error {
	for {
		err := r.Run(ctx, streams)
		switch {
		case ctx.Err() != nil:
			return nil
		case export.IsFatal(err):
			return err
		case err != nil:
			r.logger.Printf("cycle failed, next attempt in %s: %v", delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) syncAudits(ctx context.Context, report *domain.CycleReport) error {
	if r.discoverer == nil {
		return export.Fatal(errors.New("audits stream is not configured"))
	}
	cursor, err := r.store.Cursor(domain.StreamAudits)
	if err != nil {
		return export.Fatal(fmt.Errorf("read audits cursor: %w", err))
	}
	deferred, err := r.store.Deferred()
	if err != nil {
		return export.Fatal(fmt.Errorf("read deferral log: %w", err))
	}

	found, err := r.discoverer.Discover(ctx, cursor)
	if err != nil {
		return err
	}
	report.Discovered = len(found.Refs)
	report.Duplicates = found.Duplicates

	refs := MergeDeferred(deferred, found.Refs)
	var retriedMax time.Time
	for _, batch := range Batches(refs, r.settings.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Batches++
		outcome, err := r.auditBatch(ctx, report, batch)
		if err != nil {
			return err
		}
		if outcome.RetriedMax.After(retriedMax) {
			retriedMax = outcome.RetriedMax
		}
	}

	// Every batch went through, so retried records may now move the cursor.
	// Without this a retried record that was also rediscovered would be
	// found again on every cycle.
	if !retriedMax.IsZero() {
		if _, err := r.store.AdvanceCursor(domain.StreamAudits, retriedMax); err != nil {
			return export.Fatal(fmt.Errorf("advance audits cursor: %w", err))
		}
	}
	return nil
}

func (r *Runner) auditBatch(ctx context.Context, report *domain.CycleReport, batch domain.Batch) (Outcome, error) {
	var ready, retried, notReady []string
	for _, ref := range batch.Refs {
		switch {
		case ref.Synthetic():
			retried = append(retried, ref.ID)
			ready = append(ready, ref.ID)
		case r.gate.IsReady(ref, r.settings.MediaSyncOffset):
			ready = append(ready, ref.ID)
		default:
			notReady = append(notReady, ref.ID)
		}
	}
	if len(notReady) > 0 {
		added, err := r.store.Defer(notReady...)
		if err != nil {
			return Outcome{}, export.Fatal(fmt.Errorf("update deferral log: %w", err))
		}
		report.Deferred += added
	}
	report.Retried += len(retried)

	records, failures := r.loader.Load(ctx, ready)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	isRetry := make(map[string]bool, len(retried))
	for _, id := range retried {
		isRetry[id] = true
	}
	var failed, gone []string
	for _, id := range ready {
		ferr, ok := failures[id]
		if !ok {
			continue
		}
		if export.IsFatal(ferr) {
			return Outcome{}, fmt.Errorf("fetch %s: %w", id, ferr)
		}
		report.FetchFailures++
		var apiErr *provider.APIError
		if isRetry[id] && errors.As(ferr, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			r.logger.Printf("run %s: deferred audit %s no longer exists, dropping it", report.RunID, id)
			gone = append(gone, id)
			continue
		}
		r.logger.Printf("run %s: fetch %s failed, deferring: %v", report.RunID, id, ferr)
		failed = append(failed, id)
	}
	if len(failed) > 0 {
		added, err := r.store.Defer(failed...)
		if err != nil {
			return Outcome{}, export.Fatal(fmt.Errorf("update deferral log: %w", err))
		}
		report.Deferred += added
	}
	if len(gone) > 0 {
		if _, err := r.store.Clear(gone...); err != nil {
			return Outcome{}, export.Fatal(fmt.Errorf("update deferral log: %w", err))
		}
	}

	outcome, err := r.dispatcher.Process(ctx, domain.StreamAudits, records, retried)
	report.Exported += outcome.Exported
	report.SinkFailures += outcome.Failures()
	if err != nil {
		return outcome, err
	}
	r.logger.Printf("run %s: batch %d exported %d of %d (%d not ready, %d failed)",
		report.RunID, batch.Index, outcome.Exported, len(batch.Refs), len(notReady), len(failures))
	return outcome, nil
}

func (r *Runner) syncActions(ctx context.Context, report *domain.CycleReport) error {
	if r.actions == nil {
		return export.Fatal(errors.New("actions stream is not configured"))
	}
	cursor, err := r.store.Cursor(domain.StreamActions)
	if err != nil {
		return export.Fatal(fmt.Errorf("read actions cursor: %w", err))
	}
	found, err := r.actions.DiscoverActions(ctx, cursor)
	if err != nil {
		return fmt.Errorf("discover actions: %w", err)
	}
	if t := r.settings.DedupWarnThreshold; t > 0 && len(found) > t {
		r.logger.Printf("action discovery returned %d entries (threshold %d), removing duplicates", len(found), t)
	}
	records, dropped := Dedupe(found, func(rec domain.Record) string { return rec.ID })
	SortRecords(records)
	report.Discovered = len(records)
	report.Duplicates = dropped

	for _, chunk := range Chunk(records, r.settings.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Batches++
		outcome, err := r.dispatcher.Process(ctx, domain.StreamActions, chunk, nil)
		report.Exported += outcome.Exported
		report.SinkFailures += outcome.Failures()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) logReport(report domain.CycleReport) {
	r.logger.Printf("run %s %s: discovered=%d duplicates=%d batches=%d deferred=%d retried=%d exported=%d fetch_failures=%d sink_failures=%d cursor=%s took=%s",
		report.RunID, report.Stream, report.Discovered, report.Duplicates, report.Batches, report.Deferred,
		report.Retried, report.Exported, report.FetchFailures, report.SinkFailures,
		syncstate.FormatCursor(report.Cursor), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Error != "" {
		r.logger.Printf("run %s %s aborted: %s", report.RunID, report.Stream, report.Error)
	}
}
