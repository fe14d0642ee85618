// Package knowledge stores catalog knowledge entries and drives their
// vectorization into the vector index.
//
// An Item starts unvectorized. The backlog vectorizer (or the single-item
// path) embeds its content, inserts the vector, and marks the item
// vectorized in the same transaction, so an item is never marked done
// without its vector existing.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Knowledge provenance values for Item.Source.
const (
	SourceManual    = "manual"
	SourceCrawled   = "crawled"
	SourceGenerated = "generated"
)

// Item is one knowledge entry. ComponentID and ComponentType link the
// entry to a catalog component when it describes one; free-form knowledge
// leaves them empty. VectorID is set exactly when Vectorized is true.
type Item struct {
	ID            uuid.UUID
	ComponentID   *int64
	ComponentType string
	Content       string
	Source        string
	Tags          []string
	Score         *float64
	VectorID      *int64
	Vectorized    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateParams are the caller-supplied fields of a new Item. An empty
// Source defaults to manual.
type CreateParams struct {
	ComponentID   *int64
	ComponentType string
	Content       string
	Source        string
	Tags          []string
	Score         *float64
}
