package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// HashEmbedder derives a deterministic unit vector from a SHA-256 hash of
// the text. Identical text always yields identical vectors, so exact-match
// retrieval works, but the vectors carry no semantic locality. Intended for
// offline development and tests.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder producing vectors of the given
// dimension. The dimension must be positive.
func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimension, dimension)
	}
	return &HashEmbedder{dimension: dimension}, nil
}

// Embed implements Embedder. It never fails for non-empty text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	seed := sha256.Sum256([]byte(text))
	rng := rand.New(rand.NewChaCha8(seed))

	vec := make([]float32, e.dimension)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	// Normalize to unit length so L2 distances stay in a stable range.
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

// Dimension implements Embedder.
func (e *HashEmbedder) Dimension() int {
	return e.dimension
}
