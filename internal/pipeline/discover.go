package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/provider"
)

// AuditSource lists and fetches audits.
type AuditSource interface {
	DiscoverAudits(ctx context.Context, q provider.AuditQuery) ([]domain.RecordRef, error)
	FetchAudit(ctx context.Context, id string) (domain.Record, error)
}

// ActionSource lists actions together with their bodies.
type ActionSource interface {
	DiscoverActions(ctx context.Context, modifiedAfter time.Time) ([]domain.Record, error)
}

// Filters scope audit discovery.
type Filters struct {
	TemplateIDs []string
	Completed   provider.Filter
	Archived    provider.Filter
}

// Discovery is the de-duplicated, ordered result of one discovery pass.
type Discovery struct {
	Refs       []domain.RecordRef
	Raw        int
	Duplicates int
}

// Discoverer queries the provider for audits modified after the cursor.
type Discoverer struct {
	source        AuditSource
	filters       Filters
	warnThreshold int
	logger        *log.Logger
}

// NewDiscoverer returns a Discoverer. A warnThreshold of zero disables the
// large result warning.
func NewDiscoverer(source AuditSource, filters Filters, warnThreshold int, logger *log.Logger) *Discoverer {
	return &Discoverer{source: source, filters: filters, warnThreshold: warnThreshold, logger: componentLogger(logger)}
}

// Discover runs one search per configured template, or a single unscoped
// search, and returns the union de-duplicated by ID and ordered by
// modified_at.
func (d *Discoverer) Discover(ctx context.Context, cursor time.Time) (Discovery, error) {
	scopes := [][]string{nil}
	if len(d.filters.TemplateIDs) > 0 {
		scopes = scopes[:0]
		for _, id := range d.filters.TemplateIDs {
			scopes = append(scopes, []string{id})
		}
	}

	var raw []domain.RecordRef
	for _, templates := range scopes {
		refs, err := d.source.DiscoverAudits(ctx, provider.AuditQuery{
			ModifiedAfter: cursor,
			TemplateIDs:   templates,
			Completed:     d.filters.Completed,
			Archived:      d.filters.Archived,
		})
		if err != nil {
			return Discovery{}, fmt.Errorf("discover audits: %w", err)
		}
		raw = append(raw, refs...)
	}

	if d.warnThreshold > 0 && len(raw) > d.warnThreshold {
		d.logger.Printf("discovery returned %d entries (threshold %d), removing duplicates", len(raw), d.warnThreshold)
	}
	refs, dropped := Dedupe(raw, func(r domain.RecordRef) string { return r.ID })
	SortRefs(refs)
	return Discovery{Refs: refs, Raw: len(raw), Duplicates: dropped}, nil
}

// Dedupe keeps the first occurrence of every ID and reports how many entries
// were dropped.
func Dedupe[T any](items []T, id func(T) string) ([]T, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := id(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out, len(items) - len(out)
}

// SortRefs orders discovered entries by modified_at, oldest first. Entries
// without a timestamp sort first; ties keep their order.
func SortRefs(refs []domain.RecordRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i].ModifiedAt, refs[j].ModifiedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
}

// SortRecords orders records by modified_at, oldest first.
func SortRecords(records []domain.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModifiedAt.Before(records[j].ModifiedAt)
	})
}

// MergeDeferred puts the deferred IDs in front as synthetic entries and
// drops any discovered entry with the same ID.
func MergeDeferred(deferred []string, refs []domain.RecordRef) []domain.RecordRef {
	if len(deferred) == 0 {
		return refs
	}
	out := make([]domain.RecordRef, 0, len(deferred)+len(refs))
	seen := make(map[string]struct{}, len(deferred))
	for _, id := range deferred {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, domain.RecordRef{ID: id})
	}
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic("pipeline: chunk size must be positive")
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// Batches chunks refs into numbered batches.
func Batches(refs []domain.RecordRef, size int) []domain.Batch {
	chunks := Chunk(refs, size)
	out := make([]domain.Batch, len(chunks))
	for i, c := range chunks {
		out[i] = domain.Batch{Index: i, Refs: c}
	}
	return out
}
