package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/buildmaster/buildmaster/internal/log"
)

// DBTX is the subset of pgx the store needs. Both *pgxpool.Pool and pgx.Tx
// satisfy it; interfaces live with the consumer.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists knowledge items in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DBTX
	logger log.Logger
}

// NewStore creates a Store running queries against db.
func NewStore(db DBTX, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const itemColumns = `id, component_id, component_type, content, source, tags, score, vector_id, vectorized, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var componentType *string
	err := row.Scan(&it.ID, &it.ComponentID, &componentType, &it.Content, &it.Source, &it.Tags,
		&it.Score, &it.VectorID, &it.Vectorized, &it.CreatedAt, &it.UpdatedAt)
	if componentType != nil {
		it.ComponentType = *componentType
	}
	return it, err
}

// Create inserts a new, unvectorized item and returns it.
func (s *Store) Create(ctx context.Context, params CreateParams) (Item, error) {
	if strings.TrimSpace(params.Content) == "" {
		return Item{}, ErrEmptyContent
	}
	source := params.Source
	switch source {
	case "":
		source = SourceManual
	case SourceManual, SourceCrawled, SourceGenerated:
	default:
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	var componentType *string
	if params.ComponentType != "" {
		componentType = &params.ComponentType
	}
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO knowledge_items (component_id, component_type, content, source, tags, score)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+itemColumns,
		params.ComponentID, componentType, params.Content, source, tags, params.Score)

	it, err := scanItem(row)
	if err != nil {
		return Item{}, fmt.Errorf("creating knowledge item: %w", err)
	}

	s.logger.Debug("knowledge item created", "id", it.ID, "component_id", it.ComponentID)
	return it, nil
}

// Get retrieves an item by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items WHERE id = $1`, id)

	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("getting knowledge item: %w", err)
	}
	return it, nil
}

// FindByVectorID retrieves the item holding the given vector id.
func (s *Store) FindByVectorID(ctx context.Context, vectorID int64) (Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items WHERE vector_id = $1`, vectorID)

	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("finding knowledge item by vector id: %w", err)
	}
	return it, nil
}

// ListUnvectorized returns up to limit unvectorized items, oldest first.
// limit <= 0 means no limit.
func (s *Store) ListUnvectorized(ctx context.Context, limit int) ([]Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM knowledge_items
		WHERE NOT vectorized
		ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unvectorized items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning knowledge item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading unvectorized items: %w", err)
	}
	return items, nil
}

// MarkVectorized records the vector id and flips the vectorized flag. It
// runs against q so the caller can pair it with the vector insert in one
// transaction.
func (s *Store) MarkVectorized(ctx context.Context, q DBTX, id uuid.UUID, vectorID int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE knowledge_items
		SET vector_id = $2, vectorized = TRUE, updated_at = NOW()
		WHERE id = $1`,
		id, vectorID)
	if err != nil {
		return fmt.Errorf("marking item vectorized: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an item. q may be nil, in which case the store's own
// connection is used; the vectorizer passes its transaction so the row and
// its vector disappear together.
func (s *Store) Delete(ctx context.Context, q DBTX, id uuid.UUID) error {
	if q == nil {
		q = s.db
	}
	tag, err := q.Exec(ctx, `DELETE FROM knowledge_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting knowledge item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count reports total and unvectorized item counts.
func (s *Store) Count(ctx context.Context) (total, unvectorized int64, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT vectorized)
		FROM knowledge_items`).Scan(&total, &unvectorized)
	if err != nil {
		return 0, 0, fmt.Errorf("counting knowledge items: %w", err)
	}
	return total, unvectorized, nil
}
