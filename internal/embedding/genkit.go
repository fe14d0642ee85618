package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// GenkitEmbedder adapts a genkit ai.Embedder to the Embedder interface and
// enforces the configured vector dimension on every response.
type GenkitEmbedder struct {
	embedder  ai.Embedder
	dimension int
}

// NewGenkitEmbedder wraps a genkit embedder. dimension is the length vectors
// are required to have; mismatching models are rejected at embed time with
// ErrDimension.
func NewGenkitEmbedder(embedder ai.Embedder, dimension int) *GenkitEmbedder {
	return &GenkitEmbedder{embedder: embedder, dimension: dimension}
}

// Embed implements Embedder.
func (e *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: model returned %d, want %d", ErrDimension, len(vec), e.dimension)
	}

	return vec, nil
}

// Dimension implements Embedder.
func (e *GenkitEmbedder) Dimension() int {
	return e.dimension
}
