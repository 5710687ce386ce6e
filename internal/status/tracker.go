package status

import (
	"sync"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
)

// Tracker keeps the latest cycle report of every stream.
type Tracker struct {
	mu        sync.RWMutex
	started   time.Time
	config    string
	cycles    int
	failures  int
	latest    map[domain.Stream]domain.CycleReport
	lastError string
}

// NewTracker returns a Tracker for the named configuration.
func NewTracker(configName string, started time.Time) *Tracker {
	return &Tracker{
		started: started.UTC(),
		config:  configName,
		latest:  make(map[domain.Stream]domain.CycleReport),
	}
}

// Record stores report as the latest for its stream.
func (t *Tracker) Record(report domain.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	if report.Error != "" {
		t.failures++
		t.lastError = report.Error
	}
	t.latest[report.Stream] = report
}

// Snapshot is the status payload.
type Snapshot struct {
	ConfigName string               `json:"config_name"`
	StartedAt  time.Time            `json:"started_at"`
	Cycles     int                  `json:"cycles"`
	Failures   int                  `json:"failures"`
	LastError  string               `json:"last_error,omitempty"`
	Streams    []domain.CycleReport `json:"streams"`
}

// Snapshot copies the current state. Streams are listed audits first.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{
		ConfigName: t.config,
		StartedAt:  t.started,
		Cycles:     t.cycles,
		Failures:   t.failures,
		LastError:  t.lastError,
		Streams:    []domain.CycleReport{},
	}
	for _, stream := range []domain.Stream{domain.StreamAudits, domain.StreamActions} {
		if report, ok := t.latest[stream]; ok {
			snap.Streams = append(snap.Streams, report)
		}
	}
	return snap
}
