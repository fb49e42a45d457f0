// This file implements the fluent builder APIs for constructing indexes.
// Builders are immutable: each method returns a copy with the updated
// configuration, so partially applied builders can be shared safely.
package lance

import (
	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/index/flat"
	hnswindex "github.com/PromaChow/lance/index/hnsw"
	ivfindex "github.com/PromaChow/lance/index/ivf"
	"github.com/PromaChow/lance/quantization"
	"github.com/PromaChow/lance/resource"
)

// quantSpec defers quantizer construction to Build so parameter errors
// surface there, not mid-chain.
type quantSpec struct {
	kind       string // "pq" or "sq"
	pqM, pqK   int
	sqBits     int
	percentile float64
}

func (q *quantSpec) build(dim int, seed int64) (quantization.Quantizer, error) {
	switch q.kind {
	case "pq":
		return quantization.NewProductQuantizer(dim, q.pqM, q.pqK, func(o *quantization.PQOptions) {
			o.Seed = seed
		})
	case "sq":
		return quantization.NewScalarQuantizer(dim, q.sqBits, func(o *quantization.SQOptions) {
			if q.percentile > 0 {
				o.Percentile = q.percentile
			}
		})
	default:
		return nil, &index.ErrInvalidParameter{Param: "quantization", Reason: "unknown scheme " + q.kind}
	}
}

// common carries the builder fields shared by every index family.
type common struct {
	metric        distance.Metric
	seed          int64
	logger        *Logger
	metrics       MetricsCollector
	resources     *resource.Controller
	artifactCodec artifact.Codec
}

func (c *common) finish(ix *Index) *Index {
	ix.logger = c.logger
	ix.metrics = c.metrics
	ix.resources = c.resources
	ix.artifactCodec = c.artifactCodec
	if ix.logger == nil {
		ix.logger = NoopLogger()
	}
	if ix.metrics == nil {
		ix.metrics = NoopMetricsCollector{}
	}
	return ix
}

// Flat creates a builder for the exact-scan index.
//
// Example:
//
//	ix, err := lance.Flat(128).Cosine().Build()
func Flat(dimension int) FlatBuilder {
	return FlatBuilder{
		dimension: dimension,
		common:    common{metric: distance.MetricL2, artifactCodec: artifact.CodecZstd},
	}
}

// FlatBuilder configures a flat index.
type FlatBuilder struct {
	dimension int
	common    common
}

// SquaredL2 selects squared Euclidean distance.
func (b FlatBuilder) SquaredL2() FlatBuilder {
	b.common.metric = distance.MetricL2
	return b
}

// Cosine selects cosine distance; vectors are normalized on insert.
func (b FlatBuilder) Cosine() FlatBuilder {
	b.common.metric = distance.MetricCosine
	return b
}

// DotProduct selects negated dot product.
func (b FlatBuilder) DotProduct() FlatBuilder {
	b.common.metric = distance.MetricDot
	return b
}

// Logger sets the structured logger.
func (b FlatBuilder) Logger(l *Logger) FlatBuilder {
	b.common.logger = l
	return b
}

// Metrics sets the metrics collector.
func (b FlatBuilder) Metrics(mc MetricsCollector) FlatBuilder {
	b.common.metrics = mc
	return b
}

// Resources sets the resource controller.
func (b FlatBuilder) Resources(rc *resource.Controller) FlatBuilder {
	b.common.resources = rc
	return b
}

// Build constructs the index.
func (b FlatBuilder) Build() (*Index, error) {
	f, err := flat.New(func(o *flat.Options) {
		o.Dimension = b.dimension
		o.Metric = b.common.metric
	})
	if err != nil {
		return nil, err
	}
	return b.common.finish(&Index{kind: index.KindFlat, flat: f}), nil
}

// IVF creates a builder for the inverted-file index.
//
// Example:
//
//	ix, err := lance.IVF(128).
//	    Partitions(100).
//	    NProbe(10).
//	    PQ(8, 256).
//	    Build()
func IVF(dimension int) IVFBuilder {
	return IVFBuilder{
		dimension:  dimension,
		partitions: 16,
		nprobe:     1,
		common:     common{metric: distance.MetricL2, artifactCodec: artifact.CodecZstd},
	}
}

// IVFBuilder configures an IVF index.
type IVFBuilder struct {
	dimension  int
	partitions int
	nprobe     int
	quant      *quantSpec
	common     common
}

// SquaredL2 selects squared Euclidean distance.
func (b IVFBuilder) SquaredL2() IVFBuilder {
	b.common.metric = distance.MetricL2
	return b
}

// Cosine selects cosine distance; vectors are normalized on insert.
func (b IVFBuilder) Cosine() IVFBuilder {
	b.common.metric = distance.MetricCosine
	return b
}

// DotProduct selects negated dot product.
func (b IVFBuilder) DotProduct() IVFBuilder {
	b.common.metric = distance.MetricDot
	return b
}

// Partitions sets the number of coarse partitions.
func (b IVFBuilder) Partitions(n int) IVFBuilder {
	b.partitions = n
	return b
}

// NProbe sets the default number of partitions scanned per query.
func (b IVFBuilder) NProbe(n int) IVFBuilder {
	b.nprobe = n
	return b
}

// PQ stores product-quantized codes: m sub-quantizers with k centroids
// each. Raw vectors are kept alongside for exact reranking.
func (b IVFBuilder) PQ(m, k int) IVFBuilder {
	b.quant = &quantSpec{kind: "pq", pqM: m, pqK: k}
	return b
}

// SQ stores scalar-quantized codes with the given bit width (4 or 8).
func (b IVFBuilder) SQ(bits int) IVFBuilder {
	b.quant = &quantSpec{kind: "sq", sqBits: bits}
	return b
}

// SQWithPercentile is SQ with explicit clamping: the per-dimension value
// range is taken from the central percentile mass of the training sample.
func (b IVFBuilder) SQWithPercentile(bits int, percentile float64) IVFBuilder {
	b.quant = &quantSpec{kind: "sq", sqBits: bits, percentile: percentile}
	return b
}

// RandomSeed makes training deterministic.
func (b IVFBuilder) RandomSeed(seed int64) IVFBuilder {
	b.common.seed = seed
	return b
}

// Logger sets the structured logger.
func (b IVFBuilder) Logger(l *Logger) IVFBuilder {
	b.common.logger = l
	return b
}

// Metrics sets the metrics collector.
func (b IVFBuilder) Metrics(mc MetricsCollector) IVFBuilder {
	b.common.metrics = mc
	return b
}

// Resources sets the resource controller.
func (b IVFBuilder) Resources(rc *resource.Controller) IVFBuilder {
	b.common.resources = rc
	return b
}

// ArtifactCodec sets the compression codec for saved artifacts.
func (b IVFBuilder) ArtifactCodec(c artifact.Codec) IVFBuilder {
	b.common.artifactCodec = c
	return b
}

// Build constructs the index. Training is still required before inserts.
func (b IVFBuilder) Build() (*Index, error) {
	var quant quantization.Quantizer
	if b.quant != nil {
		var err error
		quant, err = b.quant.build(b.dimension, b.common.seed)
		if err != nil {
			return nil, err
		}
	}
	iv, err := ivfindex.New(func(o *ivfindex.Options) {
		o.Dimension = b.dimension
		o.Metric = b.common.metric
		o.NumPartitions = b.partitions
		o.DefaultNProbe = b.nprobe
		o.Quantizer = quant
		o.Seed = b.common.seed
	})
	if err != nil {
		return nil, err
	}
	return b.common.finish(&Index{kind: index.KindIVF, ivf: iv}), nil
}

// HNSW creates a builder for the graph index.
//
// Example:
//
//	ix, err := lance.HNSW(128).
//	    M(16).
//	    EFConstruction(200).
//	    EFSearch(100).
//	    Build()
func HNSW(dimension int) HNSWBuilder {
	return HNSWBuilder{
		dimension:      dimension,
		m:              hnswindex.DefaultM,
		efConstruction: hnswindex.DefaultEFConstruction,
		efSearch:       hnswindex.DefaultEFSearch,
		heuristic:      true,
		common:         common{metric: distance.MetricL2, artifactCodec: artifact.CodecZstd},
	}
}

// HNSWBuilder configures an HNSW index.
type HNSWBuilder struct {
	dimension      int
	m              int
	efConstruction int
	efSearch       int
	heuristic      bool
	quant          *quantSpec
	common         common
}

// SquaredL2 selects squared Euclidean distance.
func (b HNSWBuilder) SquaredL2() HNSWBuilder {
	b.common.metric = distance.MetricL2
	return b
}

// Cosine selects cosine distance; vectors are normalized on insert.
func (b HNSWBuilder) Cosine() HNSWBuilder {
	b.common.metric = distance.MetricCosine
	return b
}

// DotProduct selects negated dot product.
func (b HNSWBuilder) DotProduct() HNSWBuilder {
	b.common.metric = distance.MetricDot
	return b
}

// M sets the number of bidirectional links per node above layer 0.
// Layer 0 allows 2*M links. Higher values improve recall at the cost of
// memory and build time.
func (b HNSWBuilder) M(m int) HNSWBuilder {
	b.m = m
	return b
}

// EFConstruction sets the candidate beam width while linking new nodes.
func (b HNSWBuilder) EFConstruction(ef int) HNSWBuilder {
	b.efConstruction = ef
	return b
}

// EFSearch sets the default query beam width. Individual searches may
// override it; it must be at least k.
func (b HNSWBuilder) EFSearch(ef int) HNSWBuilder {
	b.efSearch = ef
	return b
}

// Heuristic toggles keep-diverse neighbor selection. Default: on.
func (b HNSWBuilder) Heuristic(enabled bool) HNSWBuilder {
	b.heuristic = enabled
	return b
}

// PQ scores beam candidates on product-quantized codes. Raw vectors are
// kept for diversification and exact reranking.
func (b HNSWBuilder) PQ(m, k int) HNSWBuilder {
	b.quant = &quantSpec{kind: "pq", pqM: m, pqK: k}
	return b
}

// RandomSeed makes layer assignment and quantizer training deterministic.
func (b HNSWBuilder) RandomSeed(seed int64) HNSWBuilder {
	b.common.seed = seed
	return b
}

// Logger sets the structured logger.
func (b HNSWBuilder) Logger(l *Logger) HNSWBuilder {
	b.common.logger = l
	return b
}

// Metrics sets the metrics collector.
func (b HNSWBuilder) Metrics(mc MetricsCollector) HNSWBuilder {
	b.common.metrics = mc
	return b
}

// Resources sets the resource controller.
func (b HNSWBuilder) Resources(rc *resource.Controller) HNSWBuilder {
	b.common.resources = rc
	return b
}

// ArtifactCodec sets the compression codec for saved artifacts.
func (b HNSWBuilder) ArtifactCodec(c artifact.Codec) HNSWBuilder {
	b.common.artifactCodec = c
	return b
}

// Build constructs the index.
func (b HNSWBuilder) Build() (*Index, error) {
	var quant quantization.Quantizer
	if b.quant != nil {
		var err error
		quant, err = b.quant.build(b.dimension, b.common.seed)
		if err != nil {
			return nil, err
		}
	}
	h, err := hnswindex.New(func(o *hnswindex.Options) {
		o.Dimension = b.dimension
		o.Metric = b.common.metric
		o.M = b.m
		o.EFConstruction = b.efConstruction
		o.DefaultEFSearch = b.efSearch
		o.Heuristic = b.heuristic
		o.Quantizer = quant
		o.Seed = b.common.seed
	})
	if err != nil {
		return nil, err
	}
	return b.common.finish(&Index{kind: index.KindHNSW, hnsw: h}), nil
}
