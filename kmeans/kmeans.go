// Package kmeans implements Lloyd's algorithm with deterministic k-means++
// seeding. It is the shared training engine behind the IVF partitioner and
// the product-quantization codebooks.
//
// Training always clusters under squared L2; callers that cluster under the
// cosine metric pre-normalize their sample.
package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/math32"
)

// ErrDegenerateSample is returned when the sample holds fewer distinct
// vectors than requested clusters. Failing beats silently emitting duplicate
// centroids.
var ErrDegenerateSample = errors.New("kmeans: fewer distinct vectors than clusters")

const (
	// DefaultMaxIterations bounds the Lloyd's loop.
	DefaultMaxIterations = 25

	// DefaultTolerance is the squared centroid movement below which training
	// is considered converged.
	DefaultTolerance = 1e-4
)

// Options configures a training run.
type Options struct {
	// MaxIterations caps the number of Lloyd's iterations.
	MaxIterations int

	// Tolerance stops training once the maximum squared movement of any
	// centroid between iterations falls below it.
	Tolerance float32

	// Seed makes centroid seeding reproducible.
	Seed int64
}

// DefaultOptions are the options applied when none are given.
var DefaultOptions = Options{
	MaxIterations: DefaultMaxIterations,
	Tolerance:     DefaultTolerance,
}

// Result holds the trained model.
type Result struct {
	// Centroids is the flattened k*dim centroid matrix.
	Centroids []float32

	// Assignments maps each sample vector to its final centroid.
	Assignments []int

	// Inertia records the sum of squared distances to assigned centroids at
	// each iteration. It is non-increasing.
	Inertia []float32
}

// Train clusters n = len(vectors)/dim sample vectors into k centroids.
//
// The context is checked between iterations, so long-running training can be
// cancelled cooperatively. Empty clusters are reseeded by splitting the
// largest cluster rather than left degenerate.
func Train(ctx context.Context, vectors []float32, dim, k int, optFns ...func(o *Options)) (*Result, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dim", Reason: "must be positive"}
	}
	if k < 1 {
		return nil, &index.ErrInvalidParameter{Param: "k", Reason: "must be at least 1"}
	}

	n := len(vectors) / dim
	if n < k {
		return nil, &index.ErrInsufficientTrainingData{Required: k, Got: n}
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	centroids, err := seedPlusPlus(vectors, dim, n, k, rng)
	if err != nil {
		return nil, err
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)
	prev := make([]float32, k*dim)
	inertia := make([]float32, 0, opts.MaxIterations)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Assignment step. Scanning centroids in order with a strict <
		// comparison breaks distance ties toward the lowest centroid id.
		var sse float32
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best, bestDist := nearestCentroid(vec, centroids, dim, k)
			assignments[i] = best
			sse += bestDist
		}
		inertia = append(inertia, sse)

		// Update step.
		copy(prev, centroids)
		clear(sums)
		clear(counts)
		for i := 0; i < n; i++ {
			c := assignments[i]
			counts[c]++
			vec := vectors[i*dim : (i+1)*dim]
			sum := sums[c*dim : (c+1)*dim]
			for d, val := range vec {
				sum[d] += val
			}
		}
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				continue
			}
			inv := 1 / float32(counts[j])
			center := centroids[j*dim : (j+1)*dim]
			sum := sums[j*dim : (j+1)*dim]
			for d := range center {
				center[d] = sum[d] * inv
			}
		}

		reseedEmpty(vectors, dim, k, centroids, assignments, counts)

		var moved float32
		for j := 0; j < k; j++ {
			m := math32.SquaredL2(prev[j*dim:(j+1)*dim], centroids[j*dim:(j+1)*dim])
			if m > moved {
				moved = m
			}
		}
		if moved < opts.Tolerance {
			break
		}
	}

	// Final assignment against the converged centroids.
	for i := 0; i < n; i++ {
		assignments[i], _ = nearestCentroid(vectors[i*dim:(i+1)*dim], centroids, dim, k)
	}

	return &Result{Centroids: centroids, Assignments: assignments, Inertia: inertia}, nil
}

// seedPlusPlus picks k initial centroids with k-means++ sampling: the first
// uniformly, the rest proportional to squared distance from the nearest
// already-chosen centroid.
func seedPlusPlus(vectors []float32, dim, n, k int, rng *rand.Rand) ([]float32, error) {
	centroids := make([]float32, k*dim)
	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	minDist := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		d := math32.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[:dim])
		minDist[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			// Every remaining point coincides with a chosen centroid.
			return nil, ErrDegenerateSample
		}

		target := rng.Float32() * sum
		var cum float32
		chosen := n - 1
		for i, d := range minDist {
			cum += d
			if cum >= target && d > 0 {
				chosen = i
				break
			}
		}
		center := centroids[c*dim : (c+1)*dim]
		copy(center, vectors[chosen*dim:(chosen+1)*dim])

		sum = 0
		for i := 0; i < n; i++ {
			d := math32.SquaredL2(vectors[i*dim:(i+1)*dim], center)
			if d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}

	return centroids, nil
}

// reseedEmpty replaces each empty cluster's centroid with the member of the
// largest cluster farthest from its centroid, splitting that cluster.
func reseedEmpty(vectors []float32, dim, k int, centroids []float32, assignments, counts []int) {
	n := len(assignments)
	for j := 0; j < k; j++ {
		if counts[j] > 0 {
			continue
		}

		largest := 0
		for c := 1; c < k; c++ {
			if counts[c] > counts[largest] {
				largest = c
			}
		}
		if counts[largest] <= 1 {
			return
		}

		farIdx := -1
		var farDist float32 = -1
		center := centroids[largest*dim : (largest+1)*dim]
		for i := 0; i < n; i++ {
			if assignments[i] != largest {
				continue
			}
			d := math32.SquaredL2(vectors[i*dim:(i+1)*dim], center)
			if d > farDist {
				farDist = d
				farIdx = i
			}
		}
		if farIdx < 0 {
			return
		}

		copy(centroids[j*dim:(j+1)*dim], vectors[farIdx*dim:(farIdx+1)*dim])
		assignments[farIdx] = j
		counts[largest]--
		counts[j]++
	}
}

func nearestCentroid(vec, centroids []float32, dim, k int) (int, float32) {
	best := -1
	bestDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := math32.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best, bestDist
}

// Assign returns the id of the nearest centroid, distance ties broken toward
// the lowest id.
func Assign(vec, centroids []float32, dim int) int {
	best, _ := nearestCentroid(vec, centroids, dim, len(centroids)/dim)
	return best
}

// Nearest returns the ids of the n nearest centroids in ascending distance
// order, distance ties broken toward the lowest id.
func Nearest(query, centroids []float32, dim, n int) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	type centroidDist struct {
		id   int
		dist float32
	}
	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: math32.SquaredL2(query, centroids[i*dim:(i+1)*dim])}
	}

	// Partial selection sort; k is the partition count and stays small.
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < k; j++ {
			if dists[j].dist < dists[best].dist ||
				(dists[j].dist == dists[best].dist && dists[j].id < dists[best].id) {
				best = j
			}
		}
		dists[i], dists[best] = dists[best], dists[i]
	}

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].id
	}
	return out
}
