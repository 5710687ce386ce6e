package pipeline

import (
	"time"

	"github.com/rpattn/auditsync/internal/domain"
)

// Gate holds back audits modified too recently for their attachments to
// have finished uploading.
type Gate struct {
	now func() time.Time
}

// NewGate returns a Gate reading the time from now, or the wall clock when
// now is nil.
func NewGate(now func() time.Time) Gate {
	if now == nil {
		now = time.Now
	}
	return Gate{now: now}
}

// IsReady reports whether ref may be exported. Entries merged from the
// deferral log are always ready.
func (g Gate) IsReady(ref domain.RecordRef, offset time.Duration) bool {
	if ref.Synthetic() {
		return true
	}
	now := g.now
	if now == nil {
		now = time.Now
	}
	return now().Sub(*ref.ModifiedAt) > offset
}
