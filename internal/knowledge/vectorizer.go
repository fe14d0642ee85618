package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

// VectorIndex is the slice of the vector index the vectorizer needs.
type VectorIndex interface {
	Insert(ctx context.Context, q vecindex.DBTX, content string, vec []float32) (int64, error)
	Delete(ctx context.Context, q vecindex.DBTX, id int64) error
}

// ItemStore is the slice of the knowledge store the vectorizer needs.
type ItemStore interface {
	Get(ctx context.Context, id uuid.UUID) (Item, error)
	ListUnvectorized(ctx context.Context, limit int) ([]Item, error)
	MarkVectorized(ctx context.Context, q DBTX, id uuid.UUID, vectorID int64) error
	Delete(ctx context.Context, q DBTX, id uuid.UUID) error
}

// TxBeginner starts transactions. nil disables the transactional path,
// which is only acceptable in tests with fake stores.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Report summarizes a backlog run.
type Report struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Vectorizer embeds unvectorized knowledge items and records their vectors.
//
// For each item, the vector insert and the vectorized flag flip happen in
// one transaction, so a crash mid-run leaves items either fully done or
// untouched and a re-run picks up exactly the remainder.
type Vectorizer struct {
	store    ItemStore
	index    VectorIndex
	embedder embedding.Embedder
	pool     TxBeginner
	lockPath string
	logger   log.Logger
}

// NewVectorizer creates a Vectorizer. lockPath is the file lock guarding
// against overlapping backlog runs on the same host.
func NewVectorizer(store ItemStore, index VectorIndex, embedder embedding.Embedder, pool TxBeginner, lockPath string, logger log.Logger) *Vectorizer {
	return &Vectorizer{
		store:    store,
		index:    index,
		embedder: embedder,
		pool:     pool,
		lockPath: lockPath,
		logger:   logger,
	}
}

// VectorizeBacklog embeds every unvectorized item. Individual item failures
// are logged and counted but do not abort the run; the item stays
// unvectorized for the next run. Returns ErrBatchRunning if another run
// holds the lock.
func (v *Vectorizer) VectorizeBacklog(ctx context.Context) (Report, error) {
	lock := flock.New(v.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("acquiring batch lock: %w", err)
	}
	if !locked {
		return Report{}, ErrBatchRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			v.logger.Warn("releasing batch lock", "error", err)
		}
	}()

	items, err := v.store.ListUnvectorized(ctx, 0)
	if err != nil {
		return Report{}, fmt.Errorf("listing backlog: %w", err)
	}

	v.logger.Info("vectorization batch started", "backlog", len(items))

	var report Report
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := v.vectorize(ctx, item); err != nil {
			report.Failed++
			v.logger.Warn("vectorizing item failed",
				"id", item.ID,
				"component_id", item.ComponentID,
				"error", err)
			continue
		}
		report.Processed++
	}

	v.logger.Info("vectorization batch finished",
		"processed", report.Processed,
		"failed", report.Failed)
	return report, nil
}

// VectorizeItem embeds one item by id. Already-vectorized items are a
// no-op, so retries are safe.
func (v *Vectorizer) VectorizeItem(ctx context.Context, id uuid.UUID) error {
	item, err := v.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Vectorized {
		return nil
	}
	return v.vectorize(ctx, item)
}

// DeleteItem removes an item and, when it has been vectorized, its index
// entry, both in one transaction.
func (v *Vectorizer) DeleteItem(ctx context.Context, id uuid.UUID) error {
	item, err := v.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if v.pool == nil {
		if item.VectorID != nil {
			if err := v.index.Delete(ctx, nil, *item.VectorID); err != nil {
				return fmt.Errorf("deleting vector: %w", err)
			}
		}
		return v.store.Delete(ctx, nil, id)
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			v.logger.Warn("rolling back delete transaction", "id", id, "error", err)
		}
	}()

	if item.VectorID != nil {
		if err := v.index.Delete(ctx, tx, *item.VectorID); err != nil {
			return fmt.Errorf("deleting vector: %w", err)
		}
	}
	if err := v.store.Delete(ctx, tx, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

func (v *Vectorizer) vectorize(ctx context.Context, item Item) error {
	vec, err := v.embedder.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}

	if v.pool == nil {
		vid, err := v.index.Insert(ctx, nil, item.Content, vec)
		if err != nil {
			return fmt.Errorf("inserting vector: %w", err)
		}
		return v.store.MarkVectorized(ctx, nil, item.ID, vid)
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			v.logger.Warn("rolling back vectorize transaction", "id", item.ID, "error", err)
		}
	}()

	vid, err := v.index.Insert(ctx, tx, item.Content, vec)
	if err != nil {
		return fmt.Errorf("inserting vector: %w", err)
	}
	if err := v.store.MarkVectorized(ctx, tx, item.ID, vid); err != nil {
		return fmt.Errorf("recording vector id: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing vectorization: %w", err)
	}
	return nil
}
