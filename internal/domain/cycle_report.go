package domain

import (
	"time"

	"github.com/google/uuid"
)

// CycleReport summarizes one pass over a stream. It is logged at the end of
// the cycle and served by the status endpoint.
type CycleReport struct {
	RunID         uuid.UUID `json:"run_id"`
	Stream        Stream    `json:"stream"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Discovered    int       `json:"discovered"`
	Duplicates    int       `json:"duplicates"`
	Batches       int       `json:"batches"`
	Deferred      int       `json:"deferred"`
	Retried       int       `json:"retried"`
	Exported      int       `json:"exported"`
	FetchFailures int       `json:"fetch_failures"`
	SinkFailures  int       `json:"sink_failures"`
	Cursor        time.Time `json:"cursor"`
	Error         string    `json:"error,omitempty"`
}
