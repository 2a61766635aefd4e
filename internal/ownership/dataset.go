// internal/ownership/dataset.go
package ownership

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errLoadInterrupted = errors.New("dataset load interrupted")

// Dataset loads its source at most once and serves lookups from memory.
// A failed load caches an empty dataset so every lookup misses; a load cut
// short by context cancellation is retried by the next caller. Each agent
// instance owns its own Dataset.
type Dataset struct {
	src    Source
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	loaded  bool
	records []Record
}

// NewDataset wraps src.
func NewDataset(src Source, logger *zap.Logger) *Dataset {
	return &Dataset{src: src, logger: logger.Named("dataset")}
}

// Records returns the loaded rows, loading them on first use. ok is false
// when the load was interrupted before it finished, either by ctx or by the
// context of the concurrent caller that led the load.
func (d *Dataset) Records(ctx context.Context) (recs []Record, ok bool) {
	d.mu.RLock()
	if d.loaded {
		recs := d.records
		d.mu.RUnlock()
		return recs, true
	}
	d.mu.RUnlock()

	_, err, _ := d.group.Do("load", func() (interface{}, error) {
		d.mu.RLock()
		done := d.loaded
		d.mu.RUnlock()
		if done {
			return nil, nil
		}

		recs, err := d.src.Load(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Debug("Dataset load interrupted.", zap.Error(err))
				return nil, errLoadInterrupted
			}
			d.logger.Warn("Dataset unavailable; lookups will miss.",
				zap.String("source", d.src.Describe()), zap.Error(err))
			recs = nil
		} else {
			d.logger.Debug("Dataset loaded.",
				zap.String("source", d.src.Describe()), zap.Int("records", len(recs)))
		}

		d.mu.Lock()
		d.loaded = true
		d.records = recs
		d.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.records, d.loaded
}

// Lookup finds the record for query. A nil record with ok true means the
// dataset has no match; ok false means the lookup did not finish.
func (d *Dataset) Lookup(ctx context.Context, query string) (rec *Record, ok bool) {
	recs, ok := d.Records(ctx)
	if !ok {
		return nil, false
	}
	return Find(recs, query), true
}

// Loaded reports whether a load has completed.
func (d *Dataset) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}
