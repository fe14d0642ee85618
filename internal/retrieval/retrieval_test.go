package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

type fakeSearcher struct {
	hits    []vecindex.Hit
	err     error
	gotTopK int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, topK int) ([]vecindex.Hit, error) {
	f.gotTopK = topK
	return f.hits, f.err
}

func hashEmbedder(t *testing.T) embedding.Embedder {
	t.Helper()
	e, err := embedding.NewHashEmbedder(8)
	require.NoError(t, err)
	return e
}

func TestSearch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{hits: []vecindex.Hit{
		{ID: 1, Content: "RTX 4090, flagship GPU", Distance: 0},
		{ID: 2, Content: "RTX 4080 Super", Distance: 0.5},
		{ID: 3, Content: "RX 7900 XTX", Distance: 1.0},
	}}
	e := NewEngine(hashEmbedder(t), searcher, log.NewNop())

	snippets, err := e.Search(context.Background(), "best GPU for 4K gaming", 3)
	require.NoError(t, err)
	require.Len(t, snippets, 3)
	assert.Equal(t, 3, searcher.gotTopK)

	// Score maps distance into (0, 1]; exact match scores 1.
	assert.Equal(t, 1.0, snippets[0].Score)
	assert.InDelta(t, 1.0/1.5, snippets[1].Score, 1e-9)
	assert.InDelta(t, 0.5, snippets[2].Score, 1e-9)

	assert.EqualValues(t, 1, snippets[0].VectorID)
	assert.Equal(t, "RTX 4090, flagship GPU", snippets[0].Content)
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	e := NewEngine(hashEmbedder(t), &fakeSearcher{}, log.NewNop())

	_, err := e.Search(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = e.Search(context.Background(), "  \n", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchInvalidTopK(t *testing.T) {
	t.Parallel()

	e := NewEngine(hashEmbedder(t), &fakeSearcher{}, log.NewNop())

	_, err := e.Search(context.Background(), "query", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = e.Search(context.Background(), "query", -3)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestSearchIndexError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{err: vecindex.ErrUnavailable}
	e := NewEngine(hashEmbedder(t), searcher, log.NewNop())

	_, err := e.Search(context.Background(), "query", 5)
	assert.ErrorIs(t, err, vecindex.ErrUnavailable)
}

func TestSearchNoHits(t *testing.T) {
	t.Parallel()

	e := NewEngine(hashEmbedder(t), &fakeSearcher{}, log.NewNop())

	snippets, err := e.Search(context.Background(), "obscure component", 5)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestSearchEmbedderError(t *testing.T) {
	t.Parallel()

	e := NewEngine(hashEmbedder(t), &fakeSearcher{}, log.NewNop())

	_, err := e.Search(context.Background(), " ", 5)
	// Whitespace-only is caught before embedding.
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.False(t, errors.Is(err, embedding.ErrEmptyText))
}
