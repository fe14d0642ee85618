// Package retrieval turns a text query into ranked knowledge snippets.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

// Sentinel errors for retrieval requests.
var (
	ErrEmptyQuery  = errors.New("query is empty")
	ErrInvalidTopK = errors.New("topK must be positive")
)

// Searcher is the slice of the vector index the engine needs.
type Searcher interface {
	Search(ctx context.Context, vec []float32, topK int) ([]vecindex.Hit, error)
}

// Snippet is one retrieved knowledge entry. Score maps distance into (0, 1]
// with 1 meaning an exact match.
type Snippet struct {
	VectorID int64   `json:"vectorId"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Engine embeds queries and searches the vector index.
type Engine struct {
	embedder embedding.Embedder
	index    Searcher
	logger   log.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(embedder embedding.Embedder, index Searcher, logger log.Logger) *Engine {
	return &Engine{embedder: embedder, index: index, logger: logger}
}

// Search returns up to topK snippets for the query, best first.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := e.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	snippets := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, Snippet{
			VectorID: h.ID,
			Content:  h.Content,
			Distance: h.Distance,
			Score:    1 / (1 + h.Distance),
		})
	}

	e.logger.Debug("retrieval complete",
		"query_len", len(query),
		"top_k", topK,
		"hits", len(snippets))
	return snippets, nil
}
