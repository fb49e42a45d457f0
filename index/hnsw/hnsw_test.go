package hnsw

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/math32"
	"github.com/PromaChow/lance/quantization"
	"github.com/PromaChow/lance/testutil"
)

func newHNSW(t *testing.T, optFns ...func(o *Options)) *HNSW {
	t.Helper()
	h, err := New(optFns...)
	require.NoError(t, err)
	return h
}

func fill(t *testing.T, h *HNSW, vectors [][]float32) {
	t.Helper()
	ctx := context.Background()
	for i, v := range vectors {
		require.NoError(t, h.Insert(ctx, uint64(i), v))
	}
}

func TestNewValidation(t *testing.T) {
	var invalid *index.ErrInvalidParameter

	_, err := New()
	require.ErrorAs(t, err, &invalid)

	_, err = New(func(o *Options) {
		o.Dimension = 2
		o.Metric = distance.Metric(77)
	})
	require.ErrorAs(t, err, &invalid)
}

func TestInsertAndLookup(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	ctx := context.Background()

	require.NoError(t, h.Insert(ctx, 10, []float32{1, 2}))
	assert.Equal(t, 1, h.Count())
	assert.True(t, h.Contains(10))
	assert.False(t, h.Contains(11))

	vec, ok := h.Vector(10)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)

	var invalid *index.ErrInvalidParameter
	require.ErrorAs(t, h.Insert(ctx, 10, []float32{3, 4}), &invalid, "duplicate id")

	var dims *index.ErrDimensionMismatch
	require.ErrorAs(t, h.Insert(ctx, 11, []float32{1}), &dims)
}

func TestCircleTopOne(t *testing.T) {
	// Evenly spaced points on the unit circle: every query angle has an
	// unambiguous nearest neighbor, so a navigation failure is visible.
	const num = 256
	vectors := testutil.CircleVectors(num)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.M = 8
		o.Heuristic = true
		o.Seed = 1
	})
	fill(t, h, vectors)

	for i := 0; i < num; i++ {
		// Query slightly off the stored angle, still closest to point i.
		angle := 2*math.Pi*float64(i)/num + 0.1*math.Pi/num
		q := []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}

		got, err := h.Search(context.Background(), q, 1, nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(i), got[0].ID, "query angle near point %d", i)
	}
}

func TestCircleStoredPointExact(t *testing.T) {
	const num = 256
	vectors := testutil.CircleVectors(num)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.M = 8
		o.Heuristic = true
		o.Seed = 1
	})
	fill(t, h, vectors)

	// Querying a stored point must return that point first, at distance 0.
	for i := 0; i < num; i++ {
		got, err := h.Search(context.Background(), vectors[i], 1, nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(i), got[0].ID)
		assert.Equal(t, float32(0), got[0].Distance)
	}
}

func TestRecallOnGaussianData(t *testing.T) {
	const num, dim, k = 2000, 16, 10
	vectors := testutil.NewRNG(1).GaussianVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.Heuristic = true
		o.Seed = 1
	})
	fill(t, h, vectors)

	var sum float64
	const numQueries = 50
	for qi := 0; qi < numQueries; qi++ {
		q := vectors[qi*17%num]
		want := testutil.ExactTopK(q, vectors, k, math32.SquaredL2)
		got, err := h.Search(context.Background(), q, k, &index.SearchOptions{EF: 128})
		require.NoError(t, err)

		approx := make([]testutil.Result, len(got))
		for i, r := range got {
			approx[i] = testutil.Result{ID: r.ID, Distance: r.Distance}
		}
		sum += testutil.Recall(want, approx)
	}
	recall := sum / numQueries
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d = %f", k, recall)
}

func TestRecallImprovesWithEF(t *testing.T) {
	const num, dim, k = 2000, 16, 10
	vectors := testutil.NewRNG(1).GaussianVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.Heuristic = true
		o.Seed = 1
	})
	fill(t, h, vectors)

	const numQueries = 50
	efs := []int{10, 40, 160}
	recalls := make([]float64, len(efs))
	for ei, ef := range efs {
		var sum float64
		for qi := 0; qi < numQueries; qi++ {
			q := vectors[qi*17%num]
			want := testutil.ExactTopK(q, vectors, k, math32.SquaredL2)
			got, err := h.Search(context.Background(), q, k, &index.SearchOptions{EF: ef})
			require.NoError(t, err)

			approx := make([]testutil.Result, len(got))
			for i, r := range got {
				approx[i] = testutil.Result{ID: r.ID, Distance: r.Distance}
			}
			sum += testutil.Recall(want, approx)
		}
		recalls[ei] = sum / numQueries
	}

	// A wider beam never hurts recall on this corpus.
	for i := 1; i < len(recalls); i++ {
		assert.GreaterOrEqual(t, recalls[i], recalls[i-1],
			"recall at ef=%d vs ef=%d", efs[i], efs[i-1])
	}
	assert.GreaterOrEqual(t, recalls[len(recalls)-1], 0.95,
		"recall@%d at ef=%d = %f", k, efs[len(efs)-1], recalls[len(recalls)-1])
}

func TestSearchEFBelowKRejected(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	fill(t, h, testutil.CircleVectors(16))

	var invalid *index.ErrInvalidParameter
	_, err := h.Search(context.Background(), []float32{1, 0}, 10, &index.SearchOptions{EF: 5})
	require.ErrorAs(t, err, &invalid)

	// Default EF also bounds k.
	_, err = h.Search(context.Background(), []float32{1, 0}, DefaultEFSearch+1, nil)
	require.ErrorAs(t, err, &invalid)
}

func TestSearchEmptyIndex(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	got, err := h.Search(context.Background(), []float32{0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchKLargerThanCorpus(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	fill(t, h, testutil.CircleVectors(4))

	got, err := h.Search(context.Background(), []float32{1, 0}, 50, &index.SearchOptions{EF: 64})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestResultsOrderedAscending(t *testing.T) {
	const num, dim = 500, 8
	vectors := testutil.NewRNG(2).UniformVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.Seed = 1
	})
	fill(t, h, vectors)

	got, err := h.Search(context.Background(), vectors[0], 20, nil)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, uint64(0), got[0].ID)

	prev := float32(-1)
	for _, r := range got {
		assert.GreaterOrEqual(t, r.Distance, prev)
		prev = r.Distance
	}
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	vectors := testutil.CircleVectors(64)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	fill(t, h, vectors)

	got, err := h.Search(context.Background(), vectors[7], 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got[0].ID)

	h.Delete(7)
	assert.Equal(t, 63, h.Count())

	got, err = h.Search(context.Background(), vectors[7], 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.NotEqual(t, uint64(7), r.ID)
	}

	// Deleting twice or deleting an unknown id is a no-op.
	h.Delete(7)
	h.Delete(9999)
	assert.Equal(t, 63, h.Count())
}

func TestDeletedNodesStillRoute(t *testing.T) {
	// Tombstoned nodes stay in the graph as waypoints; searches must still
	// reach their neighborhoods.
	vectors := testutil.CircleVectors(128)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.M = 8
		o.Seed = 1
	})
	fill(t, h, vectors)

	// Delete every other node.
	for i := 0; i < 128; i += 2 {
		h.Delete(uint64(i))
	}

	for i := 1; i < 128; i += 16 {
		got, err := h.Search(context.Background(), vectors[i], 1, nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(i), got[0].ID)
	}
}

func TestFilter(t *testing.T) {
	const num, dim = 300, 4
	vectors := testutil.NewRNG(3).UniformVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.Seed = 1
	})
	fill(t, h, vectors)

	got, err := h.Search(context.Background(), vectors[0], 10, &index.SearchOptions{
		EF:     128,
		Filter: func(id uint64) bool { return id%3 == 0 },
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.Zero(t, r.ID%3, "id %d not admitted by filter", r.ID)
	}
}

func TestLevelAssignmentDeterministicBySeed(t *testing.T) {
	vectors := testutil.NewRNG(4).UniformVectors(200, 4)

	build := func(seed int64) *HNSW {
		h := newHNSW(t, func(o *Options) {
			o.Dimension = 4
			o.Seed = seed
		})
		fill(t, h, vectors)
		return h
	}

	a, b := build(7), build(7)
	assert.Equal(t, a.MaxLevel(), b.MaxLevel())
	for id := uint64(0); id < 200; id++ {
		ga, ok := a.Graph(id)
		require.True(t, ok)
		gb, ok := b.Graph(id)
		require.True(t, ok)
		assert.Equal(t, ga, gb, "node %d adjacency differs", id)
	}
}

func TestGraphConnectivityBounds(t *testing.T) {
	const num, dim = 400, 8
	vectors := testutil.NewRNG(5).UniformVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.M = 6
		o.Heuristic = true
		o.Seed = 1
	})
	fill(t, h, vectors)

	for id := uint64(0); id < num; id++ {
		layers, ok := h.Graph(id)
		require.True(t, ok)
		require.NotEmpty(t, layers)
		// Layer 0 allows 2*M links, the rest M.
		assert.LessOrEqual(t, len(layers[0]), 12, "node %d layer 0", id)
		for l := 1; l < len(layers); l++ {
			assert.LessOrEqual(t, len(layers[l]), 6, "node %d layer %d", id, l)
		}
	}
}

func TestCosineMetric(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Metric = distance.MetricCosine
		o.Seed = 1
	})
	ctx := context.Background()

	require.NoError(t, h.Insert(ctx, 1, []float32{5, 0}))
	require.NoError(t, h.Insert(ctx, 2, []float32{0, 0.5}))
	assert.Error(t, h.Insert(ctx, 3, []float32{0, 0}), "zero vector")

	got, err := h.Search(ctx, []float32{100, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
}

func TestQuantizedIndex(t *testing.T) {
	const num, dim = 1000, 16
	pq, err := quantization.NewProductQuantizer(dim, 4, 64, func(o *quantization.PQOptions) {
		o.Seed = 1
	})
	require.NoError(t, err)

	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.Quantizer = pq
		o.Heuristic = true
		o.Seed = 1
	})
	ctx := context.Background()

	// Untrained quantizer blocks inserts and searches.
	assert.False(t, h.Trained())
	assert.ErrorIs(t, h.Insert(ctx, 0, make([]float32, dim)), index.ErrNotBuilt)

	vectors := testutil.NewRNG(6).ClusteredVectors(num, dim, 8, 0.1)
	require.NoError(t, h.Train(ctx, vectors))
	fill(t, h, vectors)

	q := vectors[5]
	got, err := h.Search(ctx, q, 10, &index.SearchOptions{EF: 128, Rerank: true})
	require.NoError(t, err)
	require.Len(t, got, 10)

	// Reranked distances are exact.
	for _, r := range got {
		vec, ok := h.Vector(r.ID)
		require.True(t, ok)
		assert.InDelta(t, math32.SquaredL2(q, vec), r.Distance, 1e-5)
	}

	want := testutil.ExactTopK(q, vectors, 10, math32.SquaredL2)
	approx := make([]testutil.Result, len(got))
	for i, r := range got {
		approx[i] = testutil.Result{ID: r.ID, Distance: r.Distance}
	}
	assert.GreaterOrEqual(t, testutil.Recall(want, approx), 0.6)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	const num, dim = 300, 8
	vectors := testutil.NewRNG(7).UniformVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.M = 8
		o.Seed = 1
	})
	fill(t, h, vectors)
	h.Delete(5)

	var buf bytes.Buffer
	require.NoError(t, h.Save(&buf, artifact.CodecZstd))

	restored := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.M = 8
		o.Seed = 1
	})
	require.NoError(t, restored.Load(&buf))
	assert.Equal(t, h.Count(), restored.Count())
	assert.Equal(t, h.MaxLevel(), restored.MaxLevel())

	// Identical graphs answer identically.
	for qi := 0; qi < 10; qi++ {
		q := vectors[qi*13%num]
		want, err := h.Search(context.Background(), q, 5, nil)
		require.NoError(t, err)
		got, err := restored.Search(context.Background(), q, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Tombstones survive the round trip.
	got, err := restored.Search(context.Background(), vectors[5], 3, nil)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, uint64(5), r.ID)
	}
}

func TestLoadRejectsMismatchedParameters(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 4
		o.M = 8
		o.Seed = 1
	})
	fill(t, h, testutil.NewRNG(8).UniformVectors(32, 4))

	var buf bytes.Buffer
	require.NoError(t, h.Save(&buf, artifact.CodecNone))

	other := newHNSW(t, func(o *Options) {
		o.Dimension = 4
		o.M = 16
		o.Seed = 1
	})
	var mismatch *artifact.ErrFormatMismatch
	require.ErrorAs(t, other.Load(&buf), &mismatch)
}

func TestLoadIntoNonEmptyIndexRejected(t *testing.T) {
	h := newHNSW(t, func(o *Options) {
		o.Dimension = 2
		o.Seed = 1
	})
	fill(t, h, testutil.CircleVectors(8))

	var buf bytes.Buffer
	require.NoError(t, h.Save(&buf, artifact.CodecNone))

	var invalid *index.ErrInvalidParameter
	require.ErrorAs(t, h.Load(&buf), &invalid)
}

func TestConcurrentSearchDuringInsert(t *testing.T) {
	const num, dim = 2000, 8
	vectors := testutil.NewRNG(9).UniformVectors(num, dim)
	h := newHNSW(t, func(o *Options) {
		o.Dimension = dim
		o.EFConstruction = 64
		o.Seed = 1
	})
	fill(t, h, vectors[:100])

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := 100; i < num; i++ {
			if err := h.Insert(ctx, uint64(i), vectors[i]); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		select {
		case <-done:
			got, err := h.Search(ctx, vectors[0], 10, nil)
			require.NoError(t, err)
			assert.NotEmpty(t, got)
			assert.Equal(t, num, h.Count())
			return
		default:
			_, err := h.Search(ctx, vectors[0], 10, nil)
			require.NoError(t, err)
		}
	}
}
