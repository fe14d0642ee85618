package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHashEmbedder(t *testing.T, dimension int) *HashEmbedder {
	t.Helper()
	e, err := NewHashEmbedder(dimension)
	require.NoError(t, err)
	return e
}

func TestNewHashEmbedderRejectsBadDimension(t *testing.T) {
	t.Parallel()

	_, err := NewHashEmbedder(0)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = NewHashEmbedder(-8)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	t.Parallel()

	e := newHashEmbedder(t, 768)
	ctx := context.Background()

	a, err := e.Embed(ctx, "RTX 4090 graphics card")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "RTX 4090 graphics card")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must produce the same vector")
}

func TestHashEmbedderDistinctTexts(t *testing.T) {
	t.Parallel()

	e := newHashEmbedder(t, 768)
	ctx := context.Background()

	a, err := e.Embed(ctx, "RTX 4090")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Ryzen 9 7950X")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "different texts should produce different vectors")
}

func TestHashEmbedderDimension(t *testing.T) {
	t.Parallel()

	for _, dim := range []int{8, 768, 1536} {
		e := newHashEmbedder(t, dim)
		assert.Equal(t, dim, e.Dimension())

		vec, err := e.Embed(context.Background(), "test")
		require.NoError(t, err)
		assert.Len(t, vec, dim)
	}
}

func TestHashEmbedderUnitLength(t *testing.T) {
	t.Parallel()

	e := newHashEmbedder(t, 768)
	vec, err := e.Embed(context.Background(), "a mid-range gaming build")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	t.Parallel()

	e := newHashEmbedder(t, 768)

	_, err := e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = e.Embed(context.Background(), "   \t\n")
	assert.ErrorIs(t, err, ErrEmptyText)
}
