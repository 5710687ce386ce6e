package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/auditsync/internal/domain"
)

// RecordFetcher retrieves one full record by ID.
type RecordFetcher interface {
	FetchAudit(ctx context.Context, id string) (domain.Record, error)
}

// recordLoader retrieves the records of one chunk as a single dataloader
// batch, fetching at most workers records at a time. Each Load builds its own
// loader so the cache only coalesces repeated IDs within the chunk and never
// serves a record fetched for an earlier batch.
type recordLoader struct {
	fetcher RecordFetcher
	workers int
}

func newRecordLoader(fetcher RecordFetcher, workers int) *recordLoader {
	if workers <= 0 {
		workers = 1
	}
	return &recordLoader{fetcher: fetcher, workers: workers}
}

// Load returns the records that were retrieved, in ids order, and the error
// of every id that was not.
func (l *recordLoader) Load(ctx context.Context, ids []string) ([]domain.Record, map[string]error) {
	failures := make(map[string]error)
	if len(ids) == 0 {
		return nil, failures
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.workers)
		for i, key := range keys {
			g.Go(func() error {
				record, err := l.fetcher.FetchAudit(gctx, key.String())
				if err != nil {
					results[i] = &dataloader.Result{Error: err}
					return nil
				}
				results[i] = &dataloader.Result{Data: record}
				return nil
			})
		}
		_ = g.Wait()
		return results
	}
	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithBatchCapacity(len(ids)),
		dataloader.WithWait(time.Millisecond),
	)

	thunks := make([]dataloader.Thunk, len(ids))
	for i, id := range ids {
		thunks[i] = loader.Load(ctx, dataloader.StringKey(id))
	}

	records := make([]domain.Record, 0, len(ids))
	for i, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			failures[ids[i]] = err
			continue
		}
		record, ok := data.(domain.Record)
		if !ok {
			failures[ids[i]] = fmt.Errorf("record %s: unexpected loader result %T", ids[i], data)
			continue
		}
		records = append(records, record)
	}
	return records, failures
}
