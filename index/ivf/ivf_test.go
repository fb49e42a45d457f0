package ivf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/math32"
	"github.com/PromaChow/lance/quantization"
	"github.com/PromaChow/lance/testutil"
)

func newIVF(t *testing.T, optFns ...func(o *Options)) *IVF {
	t.Helper()
	ix, err := New(optFns...)
	require.NoError(t, err)
	return ix
}

func trainAndFill(t *testing.T, ix *IVF, vectors [][]float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ix.Train(ctx, vectors))
	for i, v := range vectors {
		require.NoError(t, ix.Insert(ctx, uint64(i), v))
	}
}

func TestNewValidation(t *testing.T) {
	var invalid *index.ErrInvalidParameter

	_, err := New()
	require.ErrorAs(t, err, &invalid)

	_, err = New(func(o *Options) { o.Dimension = 4 })
	require.ErrorAs(t, err, &invalid, "missing partitions")

	_, err = New(func(o *Options) {
		o.Dimension = 4
		o.NumPartitions = 4
		o.DefaultNProbe = 5
	})
	require.ErrorAs(t, err, &invalid, "nprobe above partitions")
}

func TestUntrainedOperations(t *testing.T) {
	ix := newIVF(t, func(o *Options) {
		o.Dimension = 2
		o.NumPartitions = 2
	})
	ctx := context.Background()

	assert.False(t, ix.Trained())
	assert.ErrorIs(t, ix.Insert(ctx, 1, []float32{1, 2}), index.ErrNotBuilt)
	_, err := ix.Search(ctx, []float32{1, 2}, 1, nil)
	assert.ErrorIs(t, err, index.ErrNotBuilt)
}

func TestTrainOnce(t *testing.T) {
	ix := newIVF(t, func(o *Options) {
		o.Dimension = 2
		o.NumPartitions = 2
	})
	vectors := testutil.NewRNG(1).UniformVectors(32, 2)
	require.NoError(t, ix.Train(context.Background(), vectors))
	require.True(t, ix.Trained())

	var invalid *index.ErrInvalidParameter
	require.ErrorAs(t, ix.Train(context.Background(), vectors), &invalid)
}

func TestInsertSpreadsAcrossPartitions(t *testing.T) {
	const dim, parts = 4, 8
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = parts
		o.Seed = 1
	})
	vectors := testutil.NewRNG(2).ClusteredVectors(640, dim, parts, 0.02)
	trainAndFill(t, ix, vectors)

	lens := ix.PartitionLens()
	require.Len(t, lens, parts)
	total := 0
	for p, n := range lens {
		assert.Positive(t, n, "partition %d empty", p)
		total += n
	}
	assert.Equal(t, len(vectors), total)
	assert.Equal(t, len(vectors), ix.Count())
}

func TestSearchRawPartitions(t *testing.T) {
	const num, dim, k = 1000, 8, 10
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 10
		o.DefaultNProbe = 10 // exhaustive probing: results must be exact
		o.Seed = 1
	})
	vectors := testutil.NewRNG(3).GaussianVectors(num, dim)
	trainAndFill(t, ix, vectors)

	query := vectors[17]
	got, err := ix.Search(context.Background(), query, k, nil)
	require.NoError(t, err)
	require.Len(t, got, k)

	want := testutil.ExactTopK(query, vectors, k, math32.SquaredL2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "rank %d", i)
	}
}

func TestRecallImprovesWithNProbe(t *testing.T) {
	const num, dim, k = 2000, 16, 10
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 20
		o.Seed = 1
	})
	rng := testutil.NewRNG(4)
	vectors := rng.ClusteredVectors(num, dim, 20, 0.1)
	trainAndFill(t, ix, vectors)

	queries := vectors[:20]
	recallAt := func(nprobe int) float64 {
		var sum float64
		for _, q := range queries {
			want := testutil.ExactTopK(q, vectors, k, math32.SquaredL2)
			got, err := ix.Search(context.Background(), q, k, &index.SearchOptions{NProbe: nprobe})
			require.NoError(t, err)
			approx := make([]testutil.Result, len(got))
			for i, r := range got {
				approx[i] = testutil.Result{ID: r.ID, Distance: r.Distance}
			}
			sum += testutil.Recall(want, approx)
		}
		return sum / float64(len(queries))
	}

	r1 := recallAt(1)
	r5 := recallAt(5)
	r20 := recallAt(20)
	assert.GreaterOrEqual(t, r5, r1)
	assert.GreaterOrEqual(t, r20, r5)
	assert.InDelta(t, 1.0, r20, 1e-9, "full probe must be exact on raw partitions")
}

func TestQuantizedRecallWithRerank(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running recall scenario")
	}

	const num, dim, k, parts = 10000, 128, 10, 100
	pq, err := quantization.NewProductQuantizer(dim, 8, 256, func(o *quantization.PQOptions) {
		o.Seed = 1
	})
	require.NoError(t, err)

	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = parts
		o.Quantizer = pq
		o.Seed = 1
	})
	rng := testutil.NewRNG(5)
	vectors := rng.ClusteredVectors(num, dim, parts, 0.15)
	trainAndFill(t, ix, vectors)

	var sum float64
	queries := vectors[:50]
	for _, q := range queries {
		want := testutil.ExactTopK(q, vectors, k, math32.SquaredL2)
		got, err := ix.Search(context.Background(), q, k, &index.SearchOptions{
			NProbe: 10,
			Rerank: true,
		})
		require.NoError(t, err)
		approx := make([]testutil.Result, len(got))
		for i, r := range got {
			approx[i] = testutil.Result{ID: r.ID, Distance: r.Distance}
		}
		sum += testutil.Recall(want, approx)
	}
	recall := sum / float64(len(queries))
	assert.GreaterOrEqual(t, recall, 0.9, "recall@10 = %f", recall)
}

func TestRerankReordersByExactDistance(t *testing.T) {
	const num, dim, k = 800, 16, 10
	pq, err := quantization.NewProductQuantizer(dim, 4, 16, func(o *quantization.PQOptions) {
		o.Seed = 2
	})
	require.NoError(t, err)

	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 4
		o.DefaultNProbe = 4
		o.Quantizer = pq
		o.Seed = 2
	})
	vectors := testutil.NewRNG(6).ClusteredVectors(num, dim, 4, 0.1)
	trainAndFill(t, ix, vectors)

	query := vectors[3]
	got, err := ix.Search(context.Background(), query, k, &index.SearchOptions{Rerank: true})
	require.NoError(t, err)
	require.Len(t, got, k)

	// Reranked distances are exact against stored vectors, ascending.
	prev := float32(-1)
	for _, r := range got {
		vec, ok := ix.Vector(r.ID)
		require.True(t, ok)
		assert.InDelta(t, math32.SquaredL2(query, vec), r.Distance, 1e-5)
		assert.GreaterOrEqual(t, r.Distance, prev)
		prev = r.Distance
	}
	assert.Equal(t, uint64(3), got[0].ID)
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	const dim = 4
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 2
		o.DefaultNProbe = 2
		o.Seed = 1
	})
	vectors := testutil.NewRNG(7).UniformVectors(100, dim)
	trainAndFill(t, ix, vectors)

	query := vectors[10]
	got, err := ix.Search(context.Background(), query, 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), got[0].ID)

	ix.Delete(10)
	assert.Equal(t, 99, ix.Count())

	got, err = ix.Search(context.Background(), query, 5, nil)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, uint64(10), r.ID)
	}
}

func TestSearchValidation(t *testing.T) {
	const dim = 4
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 4
		o.Seed = 1
	})
	vectors := testutil.NewRNG(8).UniformVectors(64, dim)
	trainAndFill(t, ix, vectors)
	ctx := context.Background()

	var invalid *index.ErrInvalidParameter
	_, err := ix.Search(ctx, vectors[0], 0, nil)
	require.ErrorAs(t, err, &invalid)

	_, err = ix.Search(ctx, vectors[0], 1, &index.SearchOptions{NProbe: 100})
	require.ErrorAs(t, err, &invalid)

	var dims *index.ErrDimensionMismatch
	_, err = ix.Search(ctx, []float32{1}, 1, nil)
	require.ErrorAs(t, err, &dims)
}

func TestSearchKLargerThanCorpus(t *testing.T) {
	ix := newIVF(t, func(o *Options) {
		o.Dimension = 2
		o.NumPartitions = 2
		o.DefaultNProbe = 2
		o.Seed = 1
	})
	vectors := testutil.NewRNG(9).UniformVectors(8, 2)
	trainAndFill(t, ix, vectors)

	got, err := ix.Search(context.Background(), vectors[0], 50, nil)
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestFilterPushedIntoScan(t *testing.T) {
	const dim = 4
	ix := newIVF(t, func(o *Options) {
		o.Dimension = dim
		o.NumPartitions = 4
		o.DefaultNProbe = 4
		o.Seed = 1
	})
	vectors := testutil.NewRNG(10).UniformVectors(200, dim)
	trainAndFill(t, ix, vectors)

	got, err := ix.Search(context.Background(), vectors[0], 10, &index.SearchOptions{
		Filter: func(id uint64) bool { return id >= 100 },
	})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for _, r := range got {
		assert.GreaterOrEqual(t, r.ID, uint64(100))
	}
}

func TestCosineMetric(t *testing.T) {
	ix := newIVF(t, func(o *Options) {
		o.Dimension = 2
		o.NumPartitions = 2
		o.DefaultNProbe = 2
		o.Metric = distance.MetricCosine
		o.Seed = 1
	})
	vectors := [][]float32{
		{1, 0}, {2, 0.1}, {0, 1}, {0.1, 3},
		{1, 1}, {-1, 0}, {0, -1}, {3, 3},
	}
	trainAndFill(t, ix, vectors)

	// Magnitude must not matter under cosine.
	got, err := ix.Search(context.Background(), []float32{10, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].ID)

	assert.Error(t, ix.Insert(context.Background(), 99, []float32{0, 0}))
}

func TestRestoreTrained(t *testing.T) {
	ix := newIVF(t, func(o *Options) {
		o.Dimension = 2
		o.NumPartitions = 2
		o.Seed = 1
	})
	// Partitioner untrained: restore must refuse.
	assert.ErrorIs(t, ix.RestoreTrained(), index.ErrNotBuilt)

	require.NoError(t, ix.Partitioner().SetCentroids([]float32{0, 0, 1, 1}))
	require.NoError(t, ix.RestoreTrained())
	require.True(t, ix.Trained())

	var invalid *index.ErrInvalidParameter
	require.ErrorAs(t, ix.RestoreTrained(), &invalid)

	require.NoError(t, ix.Insert(context.Background(), 1, []float32{0.1, 0.1}))
	got, err := ix.Search(context.Background(), []float32{0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
}
