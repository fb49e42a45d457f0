package quantization

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/math32"
	"github.com/PromaChow/lance/kmeans"
)

// MaxCentroids is the largest sub-codebook size: one byte per code.
const MaxCentroids = 256

// ProductQuantizer splits D-dimensional vectors into M contiguous sub-vectors
// and quantizes each against its own K-centroid codebook, so a vector
// compresses to M bytes. Approximate distances are M table lookups (O(M)
// instead of O(D)) once a per-query distance table is built.
//
// Sub-codebooks are clustered under squared L2; cosine-metric callers
// pre-normalize their vectors upstream.
type ProductQuantizer struct {
	dim    int
	m      int // number of sub-quantizers
	k      int // centroids per sub-quantizer
	subDim int // dim / m

	// codebooks[s] is the flattened k*subDim centroid matrix of sub-quantizer s.
	codebooks [][]float32

	seed    int64
	maxIter int
	trained bool
}

// PQOptions configures ProductQuantizer training.
type PQOptions struct {
	// Seed makes codebook training reproducible.
	Seed int64

	// MaxIterations caps k-means iterations per sub-quantizer.
	MaxIterations int
}

// NewProductQuantizer creates an untrained PQ codec.
// M must divide the dimension exactly and K must fit one byte.
func NewProductQuantizer(dim, m, k int, optFns ...func(o *PQOptions)) (*ProductQuantizer, error) {
	opts := PQOptions{MaxIterations: kmeans.DefaultMaxIterations}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dim", Reason: "must be positive"}
	}
	if m <= 0 || dim%m != 0 {
		return nil, &index.ErrInvalidParameter{
			Param:  "m",
			Reason: fmt.Sprintf("must divide dimension %d exactly", dim),
		}
	}
	if k < 1 || k > MaxCentroids {
		return nil, &index.ErrInvalidParameter{
			Param:  "k",
			Reason: fmt.Sprintf("must be in [1, %d]", MaxCentroids),
		}
	}

	return &ProductQuantizer{
		dim:       dim,
		m:         m,
		k:         k,
		subDim:    dim / m,
		codebooks: make([][]float32, m),
		seed:      opts.Seed,
		maxIter:   opts.MaxIterations,
	}, nil
}

// Train clusters each sub-vector group independently. Sub-quantizers train in
// parallel; each reads only the shared immutable sample.
func (pq *ProductQuantizer) Train(ctx context.Context, sample [][]float32) error {
	if len(sample) < pq.k {
		return &index.ErrInsufficientTrainingData{Required: pq.k, Got: len(sample)}
	}
	for _, v := range sample {
		if err := index.ValidateDimension(pq.dim, v); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for s := 0; s < pq.m; s++ {
		g.Go(func() error {
			sub := make([]float32, len(sample)*pq.subDim)
			start := s * pq.subDim
			for i, v := range sample {
				copy(sub[i*pq.subDim:(i+1)*pq.subDim], v[start:start+pq.subDim])
			}

			res, err := kmeans.Train(gctx, sub, pq.subDim, pq.k, func(o *kmeans.Options) {
				o.Seed = pq.seed + int64(s)
				o.MaxIterations = pq.maxIter
			})
			if err != nil {
				return fmt.Errorf("sub-quantizer %d: %w", s, err)
			}
			pq.codebooks[s] = res.Centroids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pq.trained = true
	return nil
}

// Encode maps each sub-vector to the id of its nearest sub-centroid,
// distance ties broken toward the lowest id.
func (pq *ProductQuantizer) Encode(v []float32) ([]byte, error) {
	if !pq.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(pq.dim, v); err != nil {
		return nil, err
	}

	code := make([]byte, pq.m)
	for s := 0; s < pq.m; s++ {
		sub := v[s*pq.subDim : (s+1)*pq.subDim]
		code[s] = byte(kmeans.Assign(sub, pq.codebooks[s], pq.subDim))
	}
	return code, nil
}

// Decode reconstructs an approximate vector by concatenating sub-centroids.
func (pq *ProductQuantizer) Decode(code []byte) ([]float32, error) {
	if !pq.trained {
		return nil, index.ErrNotBuilt
	}
	if len(code) != pq.m {
		return nil, &index.ErrInvalidParameter{
			Param:  "code",
			Reason: fmt.Sprintf("length %d, want %d", len(code), pq.m),
		}
	}

	out := make([]float32, pq.dim)
	for s := 0; s < pq.m; s++ {
		centroid := pq.centroid(s, int(code[s]))
		copy(out[s*pq.subDim:(s+1)*pq.subDim], centroid)
	}
	return out, nil
}

// BuildDistanceTable precomputes the squared distance from each query
// sub-vector to every sub-centroid. The table is flattened m*k; entry
// [s*k + c] is the distance from query sub-vector s to centroid c.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	if !pq.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateDimension(pq.dim, query); err != nil {
		return nil, err
	}

	table := make([]float32, pq.m*pq.k)
	for s := 0; s < pq.m; s++ {
		sub := query[s*pq.subDim : (s+1)*pq.subDim]
		math32.SquaredL2Batch(sub, pq.codebooks[s], pq.subDim, table[s*pq.k:(s+1)*pq.k])
	}
	return table, nil
}

// ADCDistance sums the m table entries selected by code: the asymmetric
// (full-precision query vs. quantized candidate) approximate distance.
func (pq *ProductQuantizer) ADCDistance(table []float32, code []byte) float32 {
	return math32.ADCLookup(table, code, pq.k)
}

type pqScorer struct {
	pq    *ProductQuantizer
	table []float32
}

func (s *pqScorer) Score(code []byte) float32 {
	return s.pq.ADCDistance(s.table, code)
}

// NewScorer builds the per-query distance table once and scores codes by
// table lookup.
func (pq *ProductQuantizer) NewScorer(query []float32) (Scorer, error) {
	table, err := pq.BuildDistanceTable(query)
	if err != nil {
		return nil, err
	}
	return &pqScorer{pq: pq, table: table}, nil
}

// CodeSize returns the encoded size in bytes (one byte per sub-quantizer).
func (pq *ProductQuantizer) CodeSize() int { return pq.m }

// Trained reports whether codebooks have been trained.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Dimension returns the configured vector dimension.
func (pq *ProductQuantizer) Dimension() int { return pq.dim }

// NumSubquantizers returns M.
func (pq *ProductQuantizer) NumSubquantizers() int { return pq.m }

// NumCentroids returns K.
func (pq *ProductQuantizer) NumCentroids() int { return pq.k }

// SubDimension returns D/M.
func (pq *ProductQuantizer) SubDimension() int { return pq.subDim }

// Codebooks exposes the trained sub-codebooks for serialization.
func (pq *ProductQuantizer) Codebooks() [][]float32 { return pq.codebooks }

// SetCodebooks installs codebooks loaded from a serialized artifact.
func (pq *ProductQuantizer) SetCodebooks(codebooks [][]float32) error {
	if len(codebooks) != pq.m {
		return &index.ErrInvalidParameter{
			Param:  "codebooks",
			Reason: fmt.Sprintf("got %d sub-codebooks, want %d", len(codebooks), pq.m),
		}
	}
	for s, cb := range codebooks {
		if len(cb) != pq.k*pq.subDim {
			return &index.ErrInvalidParameter{
				Param:  "codebooks",
				Reason: fmt.Sprintf("sub-codebook %d has %d floats, want %d", s, len(cb), pq.k*pq.subDim),
			}
		}
	}
	pq.codebooks = codebooks
	pq.trained = true
	return nil
}

// Fingerprint returns the canonical parameter string for artifact tagging.
func (pq *ProductQuantizer) Fingerprint() string {
	return fmt.Sprintf("pq(dim=%d,m=%d,k=%d)", pq.dim, pq.m, pq.k)
}

// ReconstructionError returns the mean relative reconstruction error of the
// codec over the given vectors: mean(||v - decode(encode(v))|| / ||v||).
func (pq *ProductQuantizer) ReconstructionError(vectors [][]float32) (float32, error) {
	if len(vectors) == 0 {
		return 0, nil
	}

	var total float64
	for _, v := range vectors {
		code, err := pq.Encode(v)
		if err != nil {
			return 0, err
		}
		rec, err := pq.Decode(code)
		if err != nil {
			return 0, err
		}
		norm := math32.Sqrt(math32.Dot(v, v))
		if norm == 0 {
			continue
		}
		total += math.Sqrt(float64(math32.SquaredL2(v, rec))) / float64(norm)
	}
	return float32(total / float64(len(vectors))), nil
}

func (pq *ProductQuantizer) centroid(s, c int) []float32 {
	return pq.codebooks[s][c*pq.subDim : (c+1)*pq.subDim]
}

var _ Quantizer = (*ProductQuantizer)(nil)
