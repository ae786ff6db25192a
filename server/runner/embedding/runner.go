package embedding

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/store"
)

// DefaultBatchSize is the number of stale entries computed per committed batch.
const DefaultBatchSize = 10

// Runner keeps one vector index up to date with the documents it is computed from.
//
// A drain repeatedly lists stale entries, computes their vectors and commits each batch in
// one transaction until nothing is stale. At most one drain runs at a time: a trigger that
// arrives during a drain marks the runner dirty and the active drain polls again before it
// goes idle.
type Runner struct {
	store        *store.Store
	index        store.VectorIndex
	preprocessor *vision.Preprocessor
	extractor    vision.Extractor
	attention    vision.Attention
	interval     time.Duration
	batchSize    int

	running atomic.Bool
	dirty   atomic.Bool
}

// NewRunner creates a runner for index. Face indexes crop to the face before extraction,
// image indexes use the whole image.
func NewRunner(s *store.Store, index store.VectorIndex, preprocessor *vision.Preprocessor, extractor vision.Extractor) *Runner {
	var attention vision.Attention = vision.AttentionNone{}
	if index.Source == store.SourceFace {
		attention = vision.AttentionFace{}
	}
	return &Runner{
		store:        s,
		index:        index,
		preprocessor: preprocessor,
		extractor:    extractor,
		attention:    attention,
		batchSize:    DefaultBatchSize,
	}
}

// WithInterval enables a periodic sweep. Zero disables it.
func (r *Runner) WithInterval(interval time.Duration) *Runner {
	r.interval = interval
	return r
}

// WithBatchSize overrides DefaultBatchSize.
func (r *Runner) WithBatchSize(batchSize int) *Runner {
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// Index returns the index maintained by the runner.
func (r *Runner) Index() store.VectorIndex {
	return r.index
}

// Run drains once on start, then on every change to a document of the index kind and on
// every sweep tick, until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	sub := r.store.Subscribe()
	defer sub.Close()

	r.Trigger(ctx)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				slog.Info("embedding runner stopped", "index", r.index.Name, "reason", "change feed closed")
				return
			}
			if event.Kind == r.index.Kind || event.Kind == "" {
				r.Trigger(ctx)
			}
		case <-tick:
			r.Trigger(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped", "index", r.index.Name)
			return
		}
	}
}

// Trigger drains the index unless a drain is already running, in which case it marks the
// runner dirty and returns false immediately.
func (r *Runner) Trigger(ctx context.Context) bool {
	r.dirty.Store(true)
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	for {
		r.dirty.Store(false)
		r.drain(ctx)
		r.running.Store(false)
		if ctx.Err() != nil || !r.dirty.Load() {
			return true
		}
		if !r.running.CompareAndSwap(false, true) {
			return true
		}
	}
}

// IsDraining reports whether a drain is in progress.
func (r *Runner) IsDraining() bool {
	return r.running.Load()
}

// drain processes stale entries batch by batch. Entries that fail are excluded for the
// rest of this drain. A cancelled context discards the uncommitted batch.
func (r *Runner) drain(ctx context.Context) {
	failed := map[string]struct{}{}
	processed := 0
	for {
		if ctx.Err() != nil {
			return
		}
		exclude := make([]string, 0, len(failed))
		for id := range failed {
			exclude = append(exclude, id)
		}
		entries, err := r.store.ListStaleEntries(ctx, r.index, r.batchSize, exclude)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to list stale entries", "index", r.index.Name, "error", err)
			}
			return
		}
		if len(entries) == 0 {
			if processed > 0 || len(failed) > 0 {
				slog.Info("vector index drained", "index", r.index.Name, "processed", processed, "failed", len(failed))
			}
			return
		}

		batch, err := r.processBatch(ctx, entries, failed)
		if err != nil {
			slog.Info("discarding uncommitted batch", "index", r.index.Name, "size", len(entries), "error", err)
			return
		}
		if len(batch) == 0 {
			continue
		}
		if err := r.store.CommitIndexBatch(ctx, r.index, batch); err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to commit index batch", "index", r.index.Name, "error", err)
			}
			return
		}
		processed += len(batch)
		slog.Debug("index batch committed", "index", r.index.Name, "count", len(batch))
	}
}

func (r *Runner) processBatch(ctx context.Context, entries []*store.StaleEntry, failed map[string]struct{}) ([]*store.IndexEntry, error) {
	batch := make([]*store.IndexEntry, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vector, err := r.computeVector(ctx, entry)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("failed to compute vector", "index", r.index.Name, "id", entry.DocID, "error", err)
			failed[entry.DocID] = struct{}{}
			continue
		}
		batch = append(batch, &store.IndexEntry{
			DocID:        entry.DocID,
			SourceDigest: entry.SourceDigest,
			Vector:       vector,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *Runner) computeVector(ctx context.Context, entry *store.StaleEntry) ([]float32, error) {
	blob, err := r.store.GetBlob(ctx, entry.SourceDigest)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, errors.Errorf("blob %s not found", entry.SourceDigest)
	}
	img, err := vision.DecodeImage(blob.Data)
	if err != nil {
		return nil, err
	}
	images, err := r.preprocessor.Process(ctx, img, r.attention, vision.DefaultTargetSize)
	if err != nil {
		return nil, err
	}
	return r.extractor.Embed(ctx, images[0])
}
