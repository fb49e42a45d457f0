// Package quantization provides lossy vector compression codecs: product
// quantization (PQ) and scalar quantization (SQ).
//
// Both codecs are trained once on a sample, are immutable afterwards, and
// encode vectors into compact byte codes. A Scorer computes approximate
// ranking distances directly between a query and codes without decoding,
// which is what makes large quantized partition scans cheap.
package quantization

import "context"

// Quantizer is the common surface of the trained codecs.
type Quantizer interface {
	// Train calibrates the codec on a sample. Must be called exactly once
	// before Encode/Decode.
	Train(ctx context.Context, sample [][]float32) error

	// Encode compresses a vector into a code. Deterministic given the
	// trained model.
	Encode(v []float32) ([]byte, error)

	// Decode reconstructs an approximate vector from a code.
	Decode(code []byte) ([]float32, error)

	// CodeSize returns the encoded size of one vector in bytes.
	CodeSize() int

	// Trained reports whether the codec has been trained.
	Trained() bool

	// NewScorer prepares per-query state for scoring codes against query.
	NewScorer(query []float32) (Scorer, error)

	// Fingerprint returns the canonical parameter string used to tag
	// serialized artifacts.
	Fingerprint() string
}

// Scorer computes approximate squared-L2 ranking distances between one query
// and encoded vectors. Scorers are cheap, per-query and safe for the single
// goroutine that created them.
type Scorer interface {
	Score(code []byte) float32
}
