// Package distance provides exact similarity and distance primitives over
// raw float32 (and half-precision) vectors.
//
// The checked functions return an error when operand lengths differ; the
// Provider functions return unchecked kernels for hot paths where the caller
// has already validated dimensions.
package distance

import (
	"fmt"
	"slices"

	"github.com/PromaChow/lance/internal/math32"
)

// ErrDimensionMismatch indicates that two vectors have different lengths.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func checkLen(a, b []float32) error {
	if len(a) != len(b) {
		return &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return nil
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	return math32.Dot(a, b), nil
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	return math32.SquaredL2(a, b), nil
}

// L2 calculates the L2 (Euclidean) distance between two vectors.
func L2(a, b []float32) (float32, error) {
	d, err := SquaredL2(a, b)
	if err != nil {
		return 0, err
	}
	return math32.Sqrt(d), nil
}

// CosineDistance calculates 1 - cosine similarity, bounded in [0, 2].
// A zero-norm operand yields distance 1 (treated as orthogonal).
func CosineDistance(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}

	dot := math32.Dot(a, b)
	na := math32.Sqrt(math32.Dot(a, a))
	nb := math32.Sqrt(math32.Dot(b, b))
	if na == 0 || nb == 0 {
		return 1, nil
	}

	return 1 - dot/(na*nb), nil
}

// Norm calculates the L2 norm (magnitude) of a vector.
func Norm(v []float32) float32 {
	return math32.Sqrt(math32.Dot(v, v))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	math32.ScaleInPlace(v, 1/math32.Sqrt(norm2))
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m >= MetricL2 && m <= MetricDot
}

// Func is an unchecked ranking-distance function: smaller is better for
// every metric. Operand lengths must already match.
type Func func(a, b []float32) float32

// Provider returns the ranking distance function for the given metric.
//
// For MetricL2 the squared distance is returned (monotone in true L2).
// For MetricCosine the operands are assumed pre-normalized, so 1 - dot is the
// cosine distance. For MetricDot the negated dot product is returned so that
// higher similarity ranks first.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return math32.SquaredL2, nil
	case MetricCosine:
		return func(a, b []float32) float32 { return 1 - math32.Dot(a, b) }, nil
	case MetricDot:
		return func(a, b []float32) float32 { return -math32.Dot(a, b) }, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// BatchFunc computes ranking distances from one query to many targets,
// a flattened array of len(out) vectors of dimension dim.
type BatchFunc func(query []float32, targets []float32, dim int, out []float32)

// BatchProvider returns the batched ranking distance function for the metric.
// Semantics match Provider applied element-wise.
func BatchProvider(m Metric) (BatchFunc, error) {
	switch m {
	case MetricL2:
		return math32.SquaredL2Batch, nil
	case MetricCosine:
		return func(q, targets []float32, dim int, out []float32) {
			math32.DotBatch(q, targets, dim, out)
			for i := range out {
				out[i] = 1 - out[i]
			}
		}, nil
	case MetricDot:
		return func(q, targets []float32, dim int, out []float32) {
			math32.DotBatch(q, targets, dim, out)
			for i := range out {
				out[i] = -out[i]
			}
		}, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// NeedsNormalization reports whether vectors should be L2-normalized before
// being stored or compared under the metric.
func NeedsNormalization(m Metric) bool {
	return m == MetricCosine
}
