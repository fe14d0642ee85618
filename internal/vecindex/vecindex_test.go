package vecindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildmaster/buildmaster/internal/log"
)

func TestNewRejectsBadName(t *testing.T) {
	t.Parallel()

	bad := []string{"", "Knowledge", "1table", "drop table; --", "has-dash", "has space"}
	for _, name := range bad {
		_, err := New(nil, name, 768, "l2", log.NewNop())
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}

	good := []string{"component_knowledge", "k", "v2_index"}
	for _, name := range good {
		_, err := New(nil, name, 768, "l2", log.NewNop())
		assert.NoError(t, err, "name %q", name)
	}
}

func TestNewRejectsBadDimension(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "component_knowledge", 0, "l2", log.NewNop())
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = New(nil, "component_knowledge", -1, "l2", log.NewNop())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOperationsBeforeEnsure(t *testing.T) {
	t.Parallel()

	x, err := New(nil, "component_knowledge", 768, "l2", log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = x.Insert(ctx, nil, "content", make([]float32, 768))
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = x.Search(ctx, make([]float32, 768), 5)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = x.Count(ctx)
	assert.ErrorIs(t, err, ErrNotReady)

	assert.ErrorIs(t, x.Delete(ctx, nil, 1), ErrNotReady)
}

func TestDimensionMismatch(t *testing.T) {
	t.Parallel()

	x, err := New(nil, "component_knowledge", 768, "l2", log.NewNop())
	require.NoError(t, err)
	x.ready = true

	ctx := context.Background()

	_, err = x.Insert(ctx, nil, "content", make([]float32, 4))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = x.Search(ctx, make([]float32, 1536), 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchRejectsBadTopK(t *testing.T) {
	t.Parallel()

	x, err := New(nil, "component_knowledge", 8, "l2", log.NewNop())
	require.NoError(t, err)
	x.ready = true

	ctx := context.Background()

	_, err = x.Search(ctx, make([]float32, 8), 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = x.Search(ctx, make([]float32, 8), -3)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestMetricOperators(t *testing.T) {
	t.Parallel()

	l2, err := New(nil, "a_l2", 8, "l2", log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "<->", l2.operator())
	assert.Equal(t, "vector_l2_ops", l2.opclass())

	cos, err := New(nil, "a_cos", 8, "cosine", log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "<=>", cos.operator())
	assert.Equal(t, "vector_cosine_ops", cos.opclass())
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	x, err := New(nil, "component_knowledge", 768, "l2", log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "component_knowledge", x.Name())
	assert.Equal(t, 768, x.Dimension())
}
