package ivf

import (
	"io"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/index"
)

const artifactAlgo = "ivf-partitioner"

// Save writes the trained centroid table as a versioned artifact.
func (p *Partitioner) Save(w io.Writer, codec artifact.Codec) error {
	if !p.trained {
		return index.ErrNotBuilt
	}
	payload := artifact.EncodeCentroids(&artifact.Centroids{
		Dim:  p.dim,
		K:    p.numPartitions,
		Data: p.centroids,
	})
	return artifact.Write(w, artifactAlgo, p.Fingerprint(), codec, payload)
}

// Load restores centroids from an artifact written by a partitioner with
// the same shape. The receiver must be constructed with matching
// parameters; the envelope fingerprint enforces that.
func (p *Partitioner) Load(r io.Reader) error {
	payload, err := artifact.Read(r, artifactAlgo, p.Fingerprint())
	if err != nil {
		return err
	}
	decoded, err := artifact.DecodeCentroids(payload)
	if err != nil {
		return err
	}
	return p.SetCentroids(decoded.Data)
}
