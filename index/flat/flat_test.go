package flat

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/math32"
	"github.com/PromaChow/lance/testutil"
)

func newFlat(t *testing.T, dim int, metric distance.Metric) *Flat {
	t.Helper()
	f, err := New(func(o *Options) {
		o.Dimension = dim
		o.Metric = metric
	})
	require.NoError(t, err)
	return f
}

func fill(t *testing.T, f *Flat, vectors [][]float32) {
	t.Helper()
	ctx := context.Background()
	for i, v := range vectors {
		require.NoError(t, f.Insert(ctx, uint64(i), v))
	}
}

func TestNewValidation(t *testing.T) {
	var invalid *index.ErrInvalidParameter
	_, err := New()
	require.ErrorAs(t, err, &invalid)

	_, err = New(func(o *Options) {
		o.Dimension = 2
		o.Metric = distance.Metric(99)
	})
	require.ErrorAs(t, err, &invalid)
}

func TestInsertValidation(t *testing.T) {
	f := newFlat(t, 3, distance.MetricL2)
	ctx := context.Background()

	var dims *index.ErrDimensionMismatch
	require.ErrorAs(t, f.Insert(ctx, 1, []float32{1, 2}), &dims)

	require.NoError(t, f.Insert(ctx, 1, []float32{1, 2, 3}))
	assert.Error(t, f.Insert(ctx, 1, []float32{4, 5, 6}), "duplicate id")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.Insert(canceled, 2, []float32{1, 2, 3}), context.Canceled)
}

func TestSearchMatchesExactScan(t *testing.T) {
	const num, dim, k = 500, 16, 10
	vectors := testutil.NewRNG(1).GaussianVectors(num, dim)
	f := newFlat(t, dim, distance.MetricL2)
	fill(t, f, vectors)
	assert.Equal(t, num, f.Count())

	query := vectors[42]
	got, err := f.Search(context.Background(), query, k, nil)
	require.NoError(t, err)
	require.Len(t, got, k)

	want := testutil.ExactTopK(query, vectors, k, math32.SquaredL2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "rank %d", i)
		assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-5)
	}

	// The query itself ranks first at distance 0.
	assert.Equal(t, uint64(42), got[0].ID)
	assert.Equal(t, float32(0), got[0].Distance)
}

func TestSearchTiesAscendingID(t *testing.T) {
	f := newFlat(t, 1, distance.MetricL2)
	ctx := context.Background()
	// Insert in descending id order so ties cannot fall out of insertion order.
	for _, id := range []uint64{9, 5, 3, 1} {
		require.NoError(t, f.Insert(ctx, id, []float32{1}))
	}

	got, err := f.Search(ctx, []float32{1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 3, 5}, []uint64{got[0].ID, got[1].ID, got[2].ID})
}

func TestSearchKLargerThanCorpus(t *testing.T) {
	f := newFlat(t, 2, distance.MetricL2)
	fill(t, f, [][]float32{{0, 0}, {1, 1}})

	got, err := f.Search(context.Background(), []float32{0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFlat(t, 2, distance.MetricL2)
	got, err := f.Search(context.Background(), []float32{0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchValidation(t *testing.T) {
	f := newFlat(t, 2, distance.MetricL2)
	ctx := context.Background()

	var invalid *index.ErrInvalidParameter
	_, err := f.Search(ctx, []float32{0, 0}, 0, nil)
	require.ErrorAs(t, err, &invalid)

	var dims *index.ErrDimensionMismatch
	_, err = f.Search(ctx, []float32{0}, 1, nil)
	require.ErrorAs(t, err, &dims)
}

func TestDelete(t *testing.T) {
	f := newFlat(t, 2, distance.MetricL2)
	fill(t, f, [][]float32{{0, 0}, {0.1, 0}, {5, 5}})

	f.Delete(0)
	assert.Equal(t, 2, f.Count())

	got, err := f.Search(context.Background(), []float32{0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].ID)
}

func TestFilter(t *testing.T) {
	const num, dim = 100, 4
	vectors := testutil.NewRNG(2).UniformVectors(num, dim)
	f := newFlat(t, dim, distance.MetricL2)
	fill(t, f, vectors)

	bm := roaring64.New()
	for id := uint64(0); id < num; id += 2 {
		bm.Add(id)
	}

	got, err := f.Search(context.Background(), vectors[1], 10, &index.SearchOptions{
		Filter: index.BitmapFilter(bm),
	})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for _, r := range got {
		assert.Zero(t, r.ID%2, "odd id %d slipped through the filter", r.ID)
	}
}

func TestCosineNormalization(t *testing.T) {
	f := newFlat(t, 2, distance.MetricCosine)
	ctx := context.Background()

	// Stored vectors are normalized copies; magnitude must not matter.
	require.NoError(t, f.Insert(ctx, 1, []float32{10, 0}))
	require.NoError(t, f.Insert(ctx, 2, []float32{0, 0.1}))

	stored, ok := f.Vector(1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, stored[0], 1e-6)

	got, err := f.Search(ctx, []float32{3, 0.1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].ID)

	// Zero vectors cannot be normalized.
	assert.Error(t, f.Insert(ctx, 3, []float32{0, 0}))
	_, err = f.Search(ctx, []float32{0, 0}, 1, nil)
	assert.Error(t, err)
}

func TestDotProductRanking(t *testing.T) {
	f := newFlat(t, 2, distance.MetricDot)
	fill(t, f, [][]float32{{1, 0}, {3, 0}, {-1, 0}})

	got, err := f.Search(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Higher dot product ranks first.
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, uint64(0), got[1].ID)
	assert.Equal(t, uint64(2), got[2].ID)
}

func TestAccessors(t *testing.T) {
	f := newFlat(t, 7, distance.MetricL2)
	assert.Equal(t, 7, f.Dimension())
	assert.Equal(t, distance.MetricL2, f.Metric())
}
