package quantization

import (
	"io"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/index"
)

// Artifact algorithm names. Stable: they are written into envelopes.
const (
	artifactAlgoPQ = "pq"
	artifactAlgoSQ = "sq"
)

// Save writes the trained codebooks as a versioned artifact.
func (pq *ProductQuantizer) Save(w io.Writer, codec artifact.Codec) error {
	if !pq.trained {
		return index.ErrNotBuilt
	}
	payload := artifact.EncodePQCodebooks(&artifact.PQCodebooks{
		Dim:       pq.dim,
		M:         pq.m,
		K:         pq.k,
		Codebooks: pq.codebooks,
	})
	return artifact.Write(w, artifactAlgoPQ, pq.Fingerprint(), codec, payload)
}

// Load restores codebooks from an artifact written by a quantizer with the
// same shape. The receiver must be constructed with matching parameters;
// the envelope fingerprint enforces that.
func (pq *ProductQuantizer) Load(r io.Reader) error {
	payload, err := artifact.Read(r, artifactAlgoPQ, pq.Fingerprint())
	if err != nil {
		return err
	}
	decoded, err := artifact.DecodePQCodebooks(payload)
	if err != nil {
		return err
	}
	return pq.SetCodebooks(decoded.Codebooks)
}

// Save writes the trained scale/offset table as a versioned artifact.
func (sq *ScalarQuantizer) Save(w io.Writer, codec artifact.Codec) error {
	if !sq.trained {
		return index.ErrNotBuilt
	}
	payload := artifact.EncodeSQParams(&artifact.SQParams{
		Dim:    sq.dim,
		Bits:   sq.bits,
		Scale:  sq.scale,
		Offset: sq.offset,
	})
	return artifact.Write(w, artifactAlgoSQ, sq.Fingerprint(), codec, payload)
}

// Load restores scale/offset parameters from an artifact written by a
// quantizer with the same shape.
func (sq *ScalarQuantizer) Load(r io.Reader) error {
	payload, err := artifact.Read(r, artifactAlgoSQ, sq.Fingerprint())
	if err != nil {
		return err
	}
	decoded, err := artifact.DecodeSQParams(payload)
	if err != nil {
		return err
	}
	return sq.SetParams(decoded.Scale, decoded.Offset)
}
