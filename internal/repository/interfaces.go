package repository

import (
	"context"

	"github.com/rpattn/auditsync/internal/domain"
)

// RowRepository defines the interface for writing flattened rows to one table
type RowRepository interface {
	// EnsureTable checks the table exists before the first write of a run,
	// creating it when the configured policy allows.
	EnsureTable(ctx context.Context) error
	// Upsert writes rows, replacing any row whose key already exists.
	Upsert(ctx context.Context, rows []domain.Row) (UpsertResult, error)
	Table() Table
}

// Prompter asks the operator a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// UpsertResult reports how a write was applied.
type UpsertResult struct {
	Rows int
	// Merged is set when the bulk insert hit an existing key and the rows
	// were written one by one instead.
	Merged bool
}
