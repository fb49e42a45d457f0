// Package ivf provides the coarse inverted-file partitioning layer: a
// k-means-trained partitioner assigning vectors to buckets, and append-only
// partition lists that stay readable during concurrent inserts.
package ivf

import (
	"context"
	"fmt"

	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/kmeans"
)

// Partitioner assigns vectors to coarse buckets by nearest centroid.
// Centroids are immutable after training.
type Partitioner struct {
	dim           int
	numPartitions int
	centroids     []float32

	seed    int64
	maxIter int
	trained bool
}

// PartitionerOptions configures training.
type PartitionerOptions struct {
	// Seed makes centroid training reproducible.
	Seed int64

	// MaxIterations caps k-means iterations.
	MaxIterations int
}

// NewPartitioner creates an untrained partitioner.
func NewPartitioner(dim, numPartitions int, optFns ...func(o *PartitionerOptions)) (*Partitioner, error) {
	opts := PartitionerOptions{MaxIterations: kmeans.DefaultMaxIterations}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dim", Reason: "must be positive"}
	}
	if numPartitions < 1 {
		return nil, &index.ErrInvalidParameter{Param: "numPartitions", Reason: "must be at least 1"}
	}

	return &Partitioner{
		dim:           dim,
		numPartitions: numPartitions,
		seed:          opts.Seed,
		maxIter:       opts.MaxIterations,
	}, nil
}

// Train learns the centroid set from the sample via Lloyd's k-means.
func (p *Partitioner) Train(ctx context.Context, sample [][]float32) error {
	if len(sample) < p.numPartitions {
		return &index.ErrInsufficientTrainingData{Required: p.numPartitions, Got: len(sample)}
	}

	flat := make([]float32, 0, len(sample)*p.dim)
	for _, v := range sample {
		if err := index.ValidateDimension(p.dim, v); err != nil {
			return err
		}
		flat = append(flat, v...)
	}

	res, err := kmeans.Train(ctx, flat, p.dim, p.numPartitions, func(o *kmeans.Options) {
		o.Seed = p.seed
		o.MaxIterations = p.maxIter
	})
	if err != nil {
		return err
	}

	p.centroids = res.Centroids
	p.trained = true
	return nil
}

// Assign returns the id of the nearest centroid, distance ties broken toward
// the lowest id. Every vector belongs to exactly one partition.
func (p *Partitioner) Assign(vec []float32) (int, error) {
	if !p.trained {
		return 0, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(p.dim, vec); err != nil {
		return 0, err
	}
	return kmeans.Assign(vec, p.centroids, p.dim), nil
}

// Probe returns the nprobe nearest centroid ids in ascending distance order.
// Probing widens the search only; it never changes assignment.
func (p *Partitioner) Probe(query []float32, nprobe int) ([]int, error) {
	if !p.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(p.dim, query); err != nil {
		return nil, err
	}
	if nprobe <= 0 || nprobe > p.numPartitions {
		return nil, &index.ErrInvalidParameter{
			Param:  "nprobe",
			Reason: fmt.Sprintf("must be in [1, %d]", p.numPartitions),
		}
	}
	return kmeans.Nearest(query, p.centroids, p.dim, nprobe), nil
}

// Trained reports whether centroids have been learned.
func (p *Partitioner) Trained() bool { return p.trained }

// Dimension returns the configured vector dimension.
func (p *Partitioner) Dimension() int { return p.dim }

// NumPartitions returns the configured partition count.
func (p *Partitioner) NumPartitions() int { return p.numPartitions }

// Centroids exposes the flattened centroid matrix for serialization.
func (p *Partitioner) Centroids() []float32 { return p.centroids }

// SetCentroids installs centroids loaded from a serialized artifact.
func (p *Partitioner) SetCentroids(centroids []float32) error {
	if len(centroids) != p.numPartitions*p.dim {
		return &index.ErrInvalidParameter{
			Param:  "centroids",
			Reason: fmt.Sprintf("got %d floats, want %d", len(centroids), p.numPartitions*p.dim),
		}
	}
	p.centroids = centroids
	p.trained = true
	return nil
}

// Fingerprint returns the canonical parameter string for artifact tagging.
func (p *Partitioner) Fingerprint() string {
	return fmt.Sprintf("ivf(dim=%d,partitions=%d)", p.dim, p.numPartitions)
}
