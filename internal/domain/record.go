package domain

import (
	"encoding/json"
	"time"
)

// Stream identifies an independently synchronized record kind. Each stream
// keeps its own cursor.
type Stream string

const (
	StreamAudits  Stream = "audits"
	StreamActions Stream = "actions"
)

// Record is one audit or action as returned by the provider. Body holds the
// provider JSON untouched.
type Record struct {
	ID         string          `json:"id"`
	Stream     Stream          `json:"stream"`
	TemplateID string          `json:"template_id,omitempty"`
	ModifiedAt time.Time       `json:"modified_at"`
	Body       json.RawMessage `json:"body"`
}

// RecordRef is a discovery entry. ModifiedAt is nil for entries merged back
// in from the deferral log.
type RecordRef struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Synthetic reports whether the entry came from the deferral log rather than
// from discovery.
func (r RecordRef) Synthetic() bool {
	return r.ModifiedAt == nil
}

// Batch is an ordered chunk of discovery entries retrieved and dispatched as
// one unit.
type Batch struct {
	Index int         `json:"index"`
	Refs  []RecordRef `json:"refs"`
}

// IDs returns the record IDs of the batch in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Refs))
	for i, ref := range b.Refs {
		ids[i] = ref.ID
	}
	return ids
}
