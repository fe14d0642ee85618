// Package embedding turns text into fixed-dimension vectors.
//
// Two implementations exist: GenkitEmbedder calls a real embedding model
// through genkit, and HashEmbedder derives a deterministic pseudo-embedding
// from the text itself for offline use and tests.
package embedding

import "context"

// Embedder produces a vector representation of text.
type Embedder interface {
	// Embed returns a vector of exactly Dimension() elements.
	// Empty or whitespace-only text is rejected with ErrEmptyText.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the length of vectors this embedder produces.
	Dimension() int
}
