package math32

import (
	"math"
	"math/rand"
	"testing"
)

func naiveDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func naiveSquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func relErr(got, want float32) float64 {
	if want == 0 {
		return math.Abs(float64(got))
	}
	return math.Abs(float64(got-want)) / math.Abs(float64(want))
}

func TestDotMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// Odd lengths exercise the unroll tail.
	for _, n := range []int{1, 3, 4, 7, 8, 64, 127, 128} {
		a := make([]float32, n)
		b := make([]float32, n)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		if e := relErr(Dot(a, b), naiveDot(a, b)); e > 1e-4 {
			t.Errorf("dot n=%d: relative error %g", n, e)
		}
		if e := relErr(SquaredL2(a, b), naiveSquaredL2(a, b)); e > 1e-4 {
			t.Errorf("squaredl2 n=%d: relative error %g", n, e)
		}
	}
}

func TestSquaredL2Identity(t *testing.T) {
	v := []float32{1, -2, 3.5, 0, 42}
	if d := SquaredL2(v, v); d != 0 {
		t.Fatalf("self distance = %g, want 0", d)
	}
}

func TestBatchKernels(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const dim, n = 16, 9
	query := make([]float32, dim)
	targets := make([]float32, dim*n)
	for i := range query {
		query[i] = rng.Float32()
	}
	for i := range targets {
		targets[i] = rng.Float32()
	}

	out := make([]float32, n)
	SquaredL2Batch(query, targets, dim, out)
	for i := 0; i < n; i++ {
		want := naiveSquaredL2(query, targets[i*dim:(i+1)*dim])
		if e := relErr(out[i], want); e > 1e-4 {
			t.Errorf("batch l2 row %d: relative error %g", i, e)
		}
	}

	DotBatch(query, targets, dim, out)
	for i := 0; i < n; i++ {
		want := naiveDot(query, targets[i*dim:(i+1)*dim])
		if e := relErr(out[i], want); e > 1e-4 {
			t.Errorf("batch dot row %d: relative error %g", i, e)
		}
	}
}

func TestADCLookup(t *testing.T) {
	// 3 sub-quantizers with 4 centroids each.
	table := []float32{
		1, 2, 3, 4,
		10, 20, 30, 40,
		100, 200, 300, 400,
	}
	codes := []byte{0, 2, 3}
	got := ADCLookup(table, codes, 4)
	if want := float32(1 + 30 + 400); got != want {
		t.Fatalf("ADCLookup = %g, want %g", got, want)
	}
}

func TestScaleInPlace(t *testing.T) {
	v := []float32{2, 4, 6}
	ScaleInPlace(v, 0.5)
	for i, want := range []float32{1, 2, 3} {
		if v[i] != want {
			t.Fatalf("v[%d] = %g, want %g", i, v[i], want)
		}
	}
}
