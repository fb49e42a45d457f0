// Package math32 provides hot-path float32 vector kernels.
// This is an internal package - external users should use the distance package.
//
// Functions here do NOT validate lengths; callers must guarantee that both
// operands have equal length. All validation lives in the distance package.
package math32

import "math"

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}

	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared L2 (Euclidean) distance.
func SquaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}

	return s0 + s1 + s2 + s3
}

// Sqrt returns the square root of x as float32.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// ScaleInPlace multiplies all elements of a by scalar.
//
// This is primarily used by distance normalization.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// SquaredL2Batch computes squared L2 distances from query to every vector in
// targets, a flattened array of len(out) vectors of dimension dim.
func SquaredL2Batch(query []float32, targets []float32, dim int, out []float32) {
	q := query[:dim]
	for i := range out {
		out[i] = SquaredL2(q, targets[i*dim:(i+1)*dim])
	}
}

// DotBatch computes dot products from query to every vector in targets,
// a flattened array of len(out) vectors of dimension dim.
func DotBatch(query []float32, targets []float32, dim int, out []float32) {
	q := query[:dim]
	for i := range out {
		out[i] = Dot(q, targets[i*dim:(i+1)*dim])
	}
}

// ADCLookup sums m table entries selected by codes.
// table is a flattened m*k matrix; codes holds m row-local column indices.
func ADCLookup(table []float32, codes []byte, k int) float32 {
	var s0, s1 float32

	m := len(codes)
	i := 0
	for ; i+2 <= m; i += 2 {
		s0 += table[i*k+int(codes[i])]
		s1 += table[(i+1)*k+int(codes[i+1])]
	}
	if i < m {
		s0 += table[i*k+int(codes[i])]
	}

	return s0 + s1
}
