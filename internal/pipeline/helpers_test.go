package pipeline

import (
	"context"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/provider"
)

var base = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func ref(id string, minutes int) domain.RecordRef {
	ts := at(minutes)
	return domain.RecordRef{ID: id, ModifiedAt: &ts}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// auditBody renders the shared audit fixture under a different ID and
// modification time.
func auditBody(t *testing.T, id string, modified time.Time) []byte {
	t.Helper()
	fixture, err := os.ReadFile("../flatten/testdata/audit.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	body := strings.ReplaceAll(string(fixture), "audit_5b4f0c7a", id)
	body = strings.Replace(body, `"modified_at": "2024-04-02T09:30:15.250Z"`,
		`"modified_at": "`+modified.UTC().Format(time.RFC3339Nano)+`"`, 1)
	return []byte(body)
}

// fakeAudits serves a fixed set of audits. Discovery repeats the first entry
// of every result the way paginated searches do.
type fakeAudits struct {
	t *testing.T

	mu          sync.Mutex
	modified    map[string]time.Time
	fetchErrs   map[string]error
	discoverErr error
	queries     []provider.AuditQuery
	fetched     []string
}

func newFakeAudits(t *testing.T, modified map[string]time.Time) *fakeAudits {
	return &fakeAudits{t: t, modified: modified, fetchErrs: map[string]error{}}
}

func (f *fakeAudits) DiscoverAudits(_ context.Context, q provider.AuditQuery) ([]domain.RecordRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	var refs []domain.RecordRef
	for id, ts := range f.modified {
		if ts.After(q.ModifiedAfter) {
			modified := ts
			refs = append(refs, domain.RecordRef{ID: id, TemplateID: "template_9d1e", ModifiedAt: &modified})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ModifiedAt.Before(*refs[j].ModifiedAt) })
	if len(refs) > 0 {
		refs = append(refs, refs[0])
	}
	return refs, nil
}

func (f *fakeAudits) FetchAudit(_ context.Context, id string) (domain.Record, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	err := f.fetchErrs[id]
	modified, known := f.modified[id]
	f.mu.Unlock()

	if err != nil {
		return domain.Record{}, err
	}
	if !known {
		return domain.Record{}, &provider.APIError{Method: "GET", URL: "/audits/" + id, StatusCode: 404}
	}
	return domain.Record{
		ID:         id,
		Stream:     domain.StreamAudits,
		TemplateID: "template_9d1e",
		ModifiedAt: modified,
		Body:       auditBody(f.t, id, modified),
	}, nil
}

// recordingSink remembers what it was asked to export.
type recordingSink struct {
	format   export.Format
	errs     map[string]error
	onExport func(id string)

	mu      sync.Mutex
	ids     []string
	flushes int
	log     *[]string
}

func (s *recordingSink) Format() export.Format { return s.format }

func (s *recordingSink) Export(ctx context.Context, record domain.Record) error {
	if s.onExport != nil {
		s.onExport(record.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, record.ID)
	if s.log != nil {
		*s.log = append(*s.log, string(s.format)+":"+record.ID)
	}
	return s.errs[record.ID]
}

func (s *recordingSink) exported() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// flushingSink adds a Flush to recordingSink.
type flushingSink struct {
	recordingSink
	flushErr error
}

func (s *flushingSink) Reset() {}

func (s *flushingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.flushErr
}
