// Package vecindex manages the pgvector-backed vector collection.
//
// A collection is a table with an auto-assigned bigint id, the raw text
// content, and a fixed-dimension vector column with an ivfflat index.
// EnsureCollection is idempotent and must run before any other operation.
package vecindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/buildmaster/buildmaster/internal/log"
)

// Sentinel errors for vector index operations.
var (
	ErrNotReady          = errors.New("vector collection not ready")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidName       = errors.New("invalid collection name")
	ErrInvalidTopK       = errors.New("topK must be positive")
	ErrUnavailable       = errors.New("vector store unavailable")
)

// DBTX abstracts the subset of pgx used by write paths, so inserts can join
// a caller-owned transaction. Both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// collectionNameRe keeps the collection name a safe SQL identifier; the
// name is interpolated into DDL and query text.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID       int64
	Content  string
	Distance float64
}

// Index is a handle to one vector collection.
type Index struct {
	pool      *pgxpool.Pool
	name      string
	dimension int
	metric    string // "l2" or "cosine"
	ready     bool
	logger    log.Logger
}

// New creates an index handle. The collection does not exist until
// EnsureCollection has run.
func New(pool *pgxpool.Pool, name string, dimension int, metric string, logger log.Logger) (*Index, error) {
	if !collectionNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dimension)
	}
	return &Index{
		pool:      pool,
		name:      name,
		dimension: dimension,
		metric:    metric,
		logger:    logger,
	}, nil
}

// operator returns the pgvector distance operator for the configured metric.
func (x *Index) operator() string {
	if x.metric == "cosine" {
		return "<=>"
	}
	return "<->"
}

// opclass returns the ivfflat operator class for the configured metric.
func (x *Index) opclass() string {
	if x.metric == "cosine" {
		return "vector_cosine_ops"
	}
	return "vector_l2_ops"
}

// EnsureCollection creates the collection table and its ivfflat index if
// they do not exist. Safe to call repeatedly; concurrent callers race only
// on IF NOT EXISTS.
func (x *Index) EnsureCollection(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, x.name, x.dimension)
	if _, err := x.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", ErrUnavailable, x.name, err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding %s) WITH (lists = 100)`,
		x.name, x.name, x.opclass())
	if _, err := x.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("%w: creating ivfflat index on %s: %v", ErrUnavailable, x.name, err)
	}

	x.ready = true
	x.logger.Info("vector collection ready",
		"collection", x.name,
		"dimension", x.dimension,
		"metric", x.metric)
	return nil
}

// Insert stores content with its vector and returns the assigned id. It
// runs against q so callers can make the insert part of a larger
// transaction.
func (x *Index) Insert(ctx context.Context, q DBTX, content string, vec []float32) (int64, error) {
	if !x.ready {
		return 0, ErrNotReady
	}
	if len(vec) != x.dimension {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dimension)
	}

	query := fmt.Sprintf(`INSERT INTO %s (content, embedding) VALUES ($1, $2) RETURNING id`, x.name)

	var id int64
	err := q.QueryRow(ctx, query, content, pgvector.NewVector(vec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting vector: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Search returns up to topK nearest neighbors of vec, closest first. Ties
// break on id so result order is stable.
func (x *Index) Search(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	if !x.ready {
		return nil, ErrNotReady
	}
	if len(vec) != x.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dimension)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}

	query := fmt.Sprintf(
		`SELECT id, content, embedding %s $1 AS distance FROM %s ORDER BY embedding %s $1, id LIMIT $2`,
		x.operator(), x.name, x.operator())

	rows, err := x.pool.Query(ctx, query, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: searching collection: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Content, &h.Distance); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading search results: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// Delete removes a vector by id. Missing ids are not an error.
func (x *Index) Delete(ctx context.Context, q DBTX, id int64) error {
	if !x.ready {
		return ErrNotReady
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, x.name)
	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("%w: deleting vector %d: %v", ErrUnavailable, id, err)
	}
	return nil
}

// Count reports how many vectors the collection holds.
func (x *Index) Count(ctx context.Context) (int64, error) {
	if !x.ready {
		return 0, ErrNotReady
	}
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, x.name)
	if err := x.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting vectors: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Name returns the collection name.
func (x *Index) Name() string {
	return x.name
}

// Dimension returns the configured vector dimension.
func (x *Index) Dimension() int {
	return x.dimension
}
