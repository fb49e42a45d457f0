package quantization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/PromaChow/lance/index"
)

// ScalarQuantizer compresses vectors with a per-dimension affine mapping
// learned from sampled value ranges. 8-bit codes use one byte per dimension;
// 4-bit codes pack two dimensions per byte.
//
// Out-of-range values are clipped at encode time. Training can clamp the
// learned range at a percentile to keep outliers from stretching it.
type ScalarQuantizer struct {
	dim    int
	bits   int
	levels int

	// Per-dimension affine parameters: decoded = code*scale + offset.
	scale  []float32
	offset []float32

	percentile float64
	trained    bool
}

// SQOptions configures ScalarQuantizer training.
type SQOptions struct {
	// Percentile clamps the learned per-dimension range: with 0.99, the
	// lowest and highest 1% of sampled values are ignored. 1.0 disables
	// clamping.
	Percentile float64
}

// NewScalarQuantizer creates an untrained SQ codec. Supported widths are
// 4 and 8 bits per dimension.
func NewScalarQuantizer(dim, bits int, optFns ...func(o *SQOptions)) (*ScalarQuantizer, error) {
	opts := SQOptions{Percentile: 1.0}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dim", Reason: "must be positive"}
	}
	if bits != 4 && bits != 8 {
		return nil, &index.ErrInvalidParameter{Param: "bits", Reason: "must be 4 or 8"}
	}
	if opts.Percentile <= 0 || opts.Percentile > 1 {
		return nil, &index.ErrInvalidParameter{Param: "percentile", Reason: "must be in (0, 1]"}
	}

	return &ScalarQuantizer{
		dim:        dim,
		bits:       bits,
		levels:     1 << bits,
		percentile: opts.Percentile,
	}, nil
}

// Train learns per-dimension scale and offset from the sampled min/max,
// optionally clamped at the configured percentile.
func (sq *ScalarQuantizer) Train(ctx context.Context, sample [][]float32) error {
	if len(sample) == 0 {
		return &index.ErrInsufficientTrainingData{Required: 1, Got: 0}
	}
	for _, v := range sample {
		if err := index.ValidateDimension(sq.dim, v); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sq.scale = make([]float32, sq.dim)
	sq.offset = make([]float32, sq.dim)

	column := make([]float32, len(sample))
	for d := 0; d < sq.dim; d++ {
		for i, v := range sample {
			column[i] = v[d]
		}

		lo, hi := rangeAtPercentile(column, sq.percentile)
		if lo == hi {
			// Constant dimension: any nonzero span round-trips it exactly.
			hi = lo + 1
		}

		sq.offset[d] = lo
		sq.scale[d] = (hi - lo) / float32(sq.levels-1)
	}

	sq.trained = true
	return nil
}

// rangeAtPercentile returns the [lo, hi] value range covering the central
// percentile mass of values.
func rangeAtPercentile(values []float32, percentile float64) (float32, float32) {
	if percentile >= 1 {
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		return lo, hi
	}

	sorted := make([]float32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cut := (1 - percentile) / 2
	loIdx := int(cut * float64(len(sorted)))
	hiIdx := len(sorted) - 1 - loIdx
	if hiIdx < loIdx {
		hiIdx = loIdx
	}
	return sorted[loIdx], sorted[hiIdx]
}

// Encode quantizes each dimension to its level, clipping out-of-range values.
func (sq *ScalarQuantizer) Encode(v []float32) ([]byte, error) {
	if !sq.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(sq.dim, v); err != nil {
		return nil, err
	}

	code := make([]byte, sq.CodeSize())
	for d, val := range v {
		level := sq.level(d, val)
		if sq.bits == 8 {
			code[d] = byte(level)
		} else {
			if d%2 == 0 {
				code[d/2] = byte(level)
			} else {
				code[d/2] |= byte(level) << 4
			}
		}
	}
	return code, nil
}

func (sq *ScalarQuantizer) level(d int, val float32) int {
	scaled := (val - sq.offset[d]) / sq.scale[d]
	level := int(scaled + 0.5)
	if level < 0 {
		level = 0
	} else if level > sq.levels-1 {
		level = sq.levels - 1
	}
	return level
}

func (sq *ScalarQuantizer) codeAt(code []byte, d int) int {
	if sq.bits == 8 {
		return int(code[d])
	}
	b := code[d/2]
	if d%2 == 0 {
		return int(b & 0x0F)
	}
	return int(b >> 4)
}

// Decode applies the lossy affine inverse.
func (sq *ScalarQuantizer) Decode(code []byte) ([]float32, error) {
	if !sq.trained {
		return nil, index.ErrNotBuilt
	}
	if len(code) != sq.CodeSize() {
		return nil, &index.ErrInvalidParameter{
			Param:  "code",
			Reason: fmt.Sprintf("length %d, want %d", len(code), sq.CodeSize()),
		}
	}

	out := make([]float32, sq.dim)
	for d := 0; d < sq.dim; d++ {
		out[d] = float32(sq.codeAt(code, d))*sq.scale[d] + sq.offset[d]
	}
	return out, nil
}

type sqScorer struct {
	sq    *ScalarQuantizer
	query []float32
}

func (s *sqScorer) Score(code []byte) float32 {
	var dist float32
	for d := 0; d < s.sq.dim; d++ {
		diff := s.query[d] - (float32(s.sq.codeAt(code, d))*s.sq.scale[d] + s.sq.offset[d])
		dist += diff * diff
	}
	return dist
}

// NewScorer scores codes by decoding per dimension against the query.
func (sq *ScalarQuantizer) NewScorer(query []float32) (Scorer, error) {
	if !sq.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(sq.dim, query); err != nil {
		return nil, err
	}
	return &sqScorer{sq: sq, query: query}, nil
}

// CodeSize returns the encoded size of one vector in bytes.
func (sq *ScalarQuantizer) CodeSize() int {
	if sq.bits == 8 {
		return sq.dim
	}
	return (sq.dim + 1) / 2
}

// Trained reports whether parameters have been learned.
func (sq *ScalarQuantizer) Trained() bool { return sq.trained }

// Dimension returns the configured vector dimension.
func (sq *ScalarQuantizer) Dimension() int { return sq.dim }

// Bits returns the code width per dimension.
func (sq *ScalarQuantizer) Bits() int { return sq.bits }

// Params exposes the per-dimension scale and offset for serialization.
func (sq *ScalarQuantizer) Params() (scale, offset []float32) {
	return sq.scale, sq.offset
}

// SetParams installs parameters loaded from a serialized artifact.
func (sq *ScalarQuantizer) SetParams(scale, offset []float32) error {
	if len(scale) != sq.dim || len(offset) != sq.dim {
		return &index.ErrInvalidParameter{
			Param:  "params",
			Reason: fmt.Sprintf("got %d/%d values, want %d", len(scale), len(offset), sq.dim),
		}
	}
	for d, s := range scale {
		if s <= 0 || math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return &index.ErrInvalidParameter{
				Param:  "params",
				Reason: fmt.Sprintf("non-positive scale at dimension %d", d),
			}
		}
	}
	sq.scale = scale
	sq.offset = offset
	sq.trained = true
	return nil
}

// Fingerprint returns the canonical parameter string for artifact tagging.
func (sq *ScalarQuantizer) Fingerprint() string {
	return fmt.Sprintf("sq(dim=%d,bits=%d)", sq.dim, sq.bits)
}

var _ Quantizer = (*ScalarQuantizer)(nil)
