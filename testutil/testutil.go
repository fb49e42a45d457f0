// Package testutil provides helpers for tests and benchmarks: seeded vector
// generators, exact top-k ground truth, and recall computation.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/PromaChow/lance/internal/math32"
)

// Result is a (row id, distance) pair used for ground truth comparisons.
type Result struct {
	ID       uint64
	Distance float32
}

// RNG is a seeded, thread-safe random generator for test data.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a generator with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset rewinds the generator to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Float32 returns a pseudo-random number in [0, 1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Intn returns a non-negative pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformVectors generates vectors with coordinates in [0, 1), sharing one
// backing array.
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range vectors {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}
	return vectors
}

// GaussianVectors generates vectors with standard normal coordinates.
func (r *RNG) GaussianVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range vectors {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}
	return vectors
}

// UnitVectors generates L2-normalized vectors uniformly distributed on the
// hypersphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range vectors {
		vec := data[i*dim : (i+1)*dim]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		math32.ScaleInPlace(vec, float32(1.0/math.Sqrt(norm)))
		vectors[i] = vec
	}
	return vectors
}

// ClusteredVectors generates vectors scattered around random unit centroids
// with Gaussian noise. Non-uniform data exercises partitioners and graph
// diversification more realistically than uniform noise.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range vectors {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}
	return vectors
}

// CircleVectors places num points evenly on the unit circle in 2D. The
// nearest neighbor of any query angle is unambiguous, which makes graph
// navigation failures obvious.
func CircleVectors(num int) [][]float32 {
	vectors := make([][]float32, num)
	for i := range vectors {
		angle := 2 * math.Pi * float64(i) / float64(num)
		vectors[i] = []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
	}
	return vectors
}

// ExactTopK computes ground-truth nearest neighbors by exhaustive scan with
// the given distance function. Ties are broken by ascending id.
func ExactTopK(query []float32, vectors [][]float32, k int, dist func(a, b []float32) float32) []Result {
	results := make([]Result, len(vectors))
	for i, vec := range vectors {
		results[i] = Result{ID: uint64(i), Distance: dist(query, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Recall computes |approximate ∩ groundTruth| / |groundTruth| by id.
func Recall(groundTruth, approximate []Result) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}
	truth := make(map[uint64]struct{}, len(groundTruth))
	for _, r := range groundTruth {
		truth[r.ID] = struct{}{}
	}
	hits := 0
	for _, r := range approximate {
		if _, ok := truth[r.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}
