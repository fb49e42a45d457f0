package distance

import "github.com/x448/float16"

// Half-precision kernels. Inputs are IEEE-754 binary16 bit patterns; the
// arithmetic itself runs in float32, so results match the float32 kernels on
// the widened values exactly.

// FromF16 widens a binary16 vector to float32.
func FromF16(v []uint16) []float32 {
	out := make([]float32, len(v))
	for i, bits := range v {
		out[i] = float16.Frombits(bits).Float32()
	}
	return out
}

// ToF16 narrows a float32 vector to binary16 bit patterns (round-to-nearest).
func ToF16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, f := range v {
		out[i] = float16.Fromfloat32(f).Bits()
	}
	return out
}

func checkLenF16(a, b []uint16) error {
	if len(a) != len(b) {
		return &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return nil
}

// SquaredL2F16 calculates the squared L2 distance between two binary16 vectors.
func SquaredL2F16(a, b []uint16) (float32, error) {
	if err := checkLenF16(a, b); err != nil {
		return 0, err
	}
	var s float32
	for i := range a {
		d := float16.Frombits(a[i]).Float32() - float16.Frombits(b[i]).Float32()
		s += d * d
	}
	return s, nil
}

// DotF16 calculates the dot product of two binary16 vectors.
func DotF16(a, b []uint16) (float32, error) {
	if err := checkLenF16(a, b); err != nil {
		return 0, err
	}
	var s float32
	for i := range a {
		s += float16.Frombits(a[i]).Float32() * float16.Frombits(b[i]).Float32()
	}
	return s, nil
}

// CosineDistanceF16 calculates 1 - cosine similarity over binary16 vectors.
func CosineDistanceF16(a, b []uint16) (float32, error) {
	if err := checkLenF16(a, b); err != nil {
		return 0, err
	}
	return CosineDistance(FromF16(a), FromF16(b))
}
