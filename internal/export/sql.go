package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/flatten"
	"github.com/rpattn/auditsync/internal/repository"
)

// auditRows flattens an audit, dropping inactive items when skipInactive is
// set.
func auditRows(skipInactive bool) func(domain.Record) ([]domain.Row, error) {
	return func(record domain.Record) ([]domain.Row, error) {
		rows, err := flatten.Audit(record.Body)
		if err != nil || !skipInactive {
			return rows, err
		}
		return flatten.ActiveOnly(rows), nil
	}
}

func actionRows(record domain.Record) ([]domain.Row, error) {
	row, err := flatten.Action(record.Body)
	if err != nil {
		return nil, err
	}
	return []domain.Row{row}, nil
}

// sqlSink collects rows for the batch and upserts them in one Flush.
type sqlSink struct {
	format  Format
	repo    repository.RowRepository
	flatten func(domain.Record) ([]domain.Row, error)
	pending []domain.Row
}

func (s *sqlSink) Format() Format { return s.format }

func (s *sqlSink) Export(_ context.Context, record domain.Record) error {
	rows, err := s.flatten(record)
	if err != nil {
		return fmt.Errorf("flatten %s: %w", record.ID, err)
	}
	s.pending = append(s.pending, rows...)
	return nil
}

// Reset implements BatchSink.
func (s *sqlSink) Reset() {
	s.pending = nil
}

// Flush writes the collected rows. Pending rows are dropped whatever the
// outcome; a failed flush stops the cycle before the cursor moves, so the
// records are discovered again.
func (s *sqlSink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	rows := s.pending
	s.pending = nil

	if _, err := s.repo.Upsert(ctx, rows); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return Fatal(fmt.Errorf("write %d rows to %s: %w", len(rows), s.repo.Table().Name, err))
	}
	return nil
}
