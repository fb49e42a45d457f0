// Package ivf provides the inverted-file index: vectors are bucketed by a
// k-means coarse partitioner and queries scan only the nprobe buckets whose
// centroids are closest to the query. Buckets store either raw vectors or
// quantized codes scored through asymmetric distance tables.
package ivf

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/queue"
	"github.com/PromaChow/lance/ivf"
	"github.com/PromaChow/lance/quantization"
	"github.com/PromaChow/lance/vectorstore"
)

// DefaultRerankFactor is the candidate multiplier used when reranking is
// requested without an explicit factor.
const DefaultRerankFactor = 4

// Options configures the IVF index.
type Options struct {
	Dimension     int
	Metric        distance.Metric
	NumPartitions int

	// DefaultNProbe is used when a search does not set its own probe count.
	DefaultNProbe int

	// Quantizer compresses stored vectors when set. Raw vectors are kept
	// alongside the codes so queries can rerank exactly.
	Quantizer quantization.Quantizer

	// Seed makes partitioner training reproducible.
	Seed int64
}

// IVF is the inverted-file index.
//
// Thread safety: Train is exclusive with everything else. After training,
// Insert may run concurrently with Search; Insert calls themselves are
// serialized per partition.
type IVF struct {
	opts     Options
	distFunc distance.Func

	partitioner *ivf.Partitioner
	partitions  []*ivf.Partition
	raw         *vectorstore.Columnar

	mu         sync.RWMutex
	tombstones *roaring64.Bitmap

	trained bool
}

// New creates an untrained IVF index.
func New(optFns ...func(o *Options)) (*IVF, error) {
	opts := Options{Metric: distance.MetricL2, DefaultNProbe: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dimension", Reason: "must be positive"}
	}
	if opts.NumPartitions <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "numPartitions", Reason: "must be positive"}
	}
	if opts.DefaultNProbe < 1 || opts.DefaultNProbe > opts.NumPartitions {
		return nil, &index.ErrInvalidParameter{Param: "defaultNProbe", Reason: "must be in [1, numPartitions]"}
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, &index.ErrInvalidParameter{Param: "metric", Reason: err.Error()}
	}

	partitioner, err := ivf.NewPartitioner(opts.Dimension, opts.NumPartitions, func(o *ivf.PartitionerOptions) {
		o.Seed = opts.Seed
	})
	if err != nil {
		return nil, err
	}

	return &IVF{
		opts:        opts,
		distFunc:    distFunc,
		partitioner: partitioner,
		raw:         vectorstore.New(opts.Dimension),
		tombstones:  roaring64.New(),
	}, nil
}

// Train fits the coarse partitioner, and the quantizer when one is
// configured, on the given sample. It must be called once before Insert or
// Search.
func (ix *IVF) Train(ctx context.Context, sample [][]float32) error {
	if ix.trained {
		return &index.ErrInvalidParameter{Param: "train", Reason: "index is already trained"}
	}

	sample, err := ix.prepareSample(sample)
	if err != nil {
		return err
	}

	if err := ix.partitioner.Train(ctx, sample); err != nil {
		return err
	}
	if ix.opts.Quantizer != nil {
		if err := ix.opts.Quantizer.Train(ctx, sample); err != nil {
			return err
		}
	}

	ix.partitions = make([]*ivf.Partition, ix.opts.NumPartitions)
	for i := range ix.partitions {
		if ix.opts.Quantizer != nil {
			ix.partitions[i] = ivf.NewCodePartition(ix.opts.Quantizer.CodeSize())
		} else {
			ix.partitions[i] = ivf.NewVectorPartition(ix.opts.Dimension)
		}
	}

	ix.trained = true
	return nil
}

func (ix *IVF) prepareSample(sample [][]float32) ([][]float32, error) {
	if !distance.NeedsNormalization(ix.opts.Metric) {
		return sample, nil
	}
	out := make([][]float32, len(sample))
	for i, vec := range sample {
		normalized, ok := distance.NormalizeL2Copy(vec)
		if !ok {
			return nil, fmt.Errorf("ivf: training sample %d is a zero vector", i)
		}
		out[i] = normalized
	}
	return out, nil
}

// Trained reports whether the index is ready for inserts and searches.
func (ix *IVF) Trained() bool { return ix.trained }

// RestoreTrained marks the index trained after its partitioner (and
// quantizer, when configured) have been restored from artifacts.
func (ix *IVF) RestoreTrained() error {
	if ix.trained {
		return &index.ErrInvalidParameter{Param: "restore", Reason: "index is already trained"}
	}
	if !ix.partitioner.Trained() {
		return index.ErrNotBuilt
	}
	if ix.opts.Quantizer != nil && !ix.opts.Quantizer.Trained() {
		return index.ErrNotBuilt
	}

	ix.partitions = make([]*ivf.Partition, ix.opts.NumPartitions)
	for i := range ix.partitions {
		if ix.opts.Quantizer != nil {
			ix.partitions[i] = ivf.NewCodePartition(ix.opts.Quantizer.CodeSize())
		} else {
			ix.partitions[i] = ivf.NewVectorPartition(ix.opts.Dimension)
		}
	}
	ix.trained = true
	return nil
}

// Insert assigns the vector to its nearest partition and appends it there.
func (ix *IVF) Insert(ctx context.Context, id uint64, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ix.trained {
		return index.ErrNotBuilt
	}
	if err := index.ValidateDimension(ix.opts.Dimension, vec); err != nil {
		return err
	}

	if distance.NeedsNormalization(ix.opts.Metric) {
		normalized, ok := distance.NormalizeL2Copy(vec)
		if !ok {
			return fmt.Errorf("ivf: cannot normalize zero vector")
		}
		vec = normalized
	}

	part, err := ix.partitioner.Assign(vec)
	if err != nil {
		return err
	}

	// Raw vectors back the exact rerank path and Vector lookups.
	if err := ix.raw.Set(id, vec); err != nil {
		return err
	}

	if ix.opts.Quantizer != nil {
		code, err := ix.opts.Quantizer.Encode(vec)
		if err != nil {
			return err
		}
		ix.partitions[part].Append(id, code, nil)
	} else {
		ix.partitions[part].Append(id, nil, vec)
	}
	return nil
}

// Delete tombstones a row id. Partition entries are not compacted; scans
// skip tombstoned ids.
func (ix *IVF) Delete(id uint64) {
	ix.mu.Lock()
	ix.tombstones.Add(id)
	ix.mu.Unlock()
}

// Count returns the number of live vectors.
func (ix *IVF) Count() int {
	ix.mu.RLock()
	dead := int(ix.tombstones.GetCardinality())
	ix.mu.RUnlock()
	return ix.raw.Count() - dead
}

// tombstoneView returns a frozen copy of the tombstone set for one search.
func (ix *IVF) tombstoneView() *roaring64.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.tombstones.IsEmpty() {
		return nil
	}
	return ix.tombstones.Clone()
}

// Search probes the nprobe partitions nearest to the query, scans their
// entries, and returns the k best candidates ordered by ascending distance
// with ties broken by ascending row id.
//
// When the index is quantized and opts.Rerank is set, the scan gathers
// rerankFactor*k candidates by approximate distance and reorders them by
// exact distance against the raw vectors before truncating to k.
func (ix *IVF) Search(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ix.trained {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if err := index.ValidateDimension(ix.opts.Dimension, query); err != nil {
		return nil, err
	}

	if distance.NeedsNormalization(ix.opts.Metric) {
		normalized, ok := distance.NormalizeL2Copy(query)
		if !ok {
			return nil, fmt.Errorf("ivf: cannot normalize zero query vector")
		}
		query = normalized
	}

	nprobe := ix.opts.DefaultNProbe
	var filter index.FilterFunc
	rerank := false
	rerankFactor := DefaultRerankFactor
	if opts != nil {
		if opts.NProbe > 0 {
			nprobe = opts.NProbe
		}
		filter = opts.Filter
		rerank = opts.Rerank
		if opts.RerankFactor > 0 {
			rerankFactor = opts.RerankFactor
		}
	}

	probes, err := ix.partitioner.Probe(query, nprobe)
	if err != nil {
		return nil, err
	}

	// Reranking only applies on the lossy path.
	rerank = rerank && ix.opts.Quantizer != nil
	fetch := k
	if rerank {
		fetch = k * rerankFactor
	}

	var scorer quantization.Scorer
	if ix.opts.Quantizer != nil {
		scorer, err = ix.opts.Quantizer.NewScorer(query)
		if err != nil {
			return nil, err
		}
	}

	dead := ix.tombstoneView()

	heaps := make([]*queue.PriorityQueue, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, part := range probes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			heaps[i] = ix.scanPartition(ix.partitions[part], query, scorer, fetch, filter, dead)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := mergeHeaps(heaps, fetch)
	if rerank {
		return ix.rerankExact(query, candidates, k)
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// scanPartition scores every live entry of one partition, keeping the best
// fetch candidates in a bounded max-heap.
func (ix *IVF) scanPartition(part *ivf.Partition, query []float32, scorer quantization.Scorer, fetch int, filter index.FilterFunc, dead *roaring64.Bitmap) *queue.PriorityQueue {
	ids, codes, vecs := part.Snapshot()
	codeSize := 0
	if scorer != nil {
		codeSize = ix.opts.Quantizer.CodeSize()
	}
	dim := ix.opts.Dimension

	top := queue.NewMax(fetch)
	for i, id := range ids {
		if filter != nil && !filter(id) {
			continue
		}
		if dead != nil && dead.Contains(id) {
			continue
		}

		var d float32
		if scorer != nil {
			d = scorer.Score(codes[i*codeSize : (i+1)*codeSize])
		} else {
			d = ix.distFunc(query, vecs[i*dim:(i+1)*dim])
		}

		if top.Len() < fetch {
			top.Push(queue.Item{ID: id, Distance: d})
			continue
		}
		if worst, _ := top.Top(); d < worst.Distance || (d == worst.Distance && id < worst.ID) {
			top.Pop()
			top.Push(queue.Item{ID: id, Distance: d})
		}
	}
	return top
}

// mergeHeaps flattens per-partition heaps into one globally ordered list of
// at most limit results.
func mergeHeaps(heaps []*queue.PriorityQueue, limit int) []index.SearchResult {
	total := 0
	for _, h := range heaps {
		if h != nil {
			total += h.Len()
		}
	}
	out := make([]index.SearchResult, 0, total)
	for _, h := range heaps {
		if h == nil {
			continue
		}
		for h.Len() > 0 {
			item, _ := h.Pop()
			out = append(out, index.SearchResult{ID: item.ID, Distance: item.Distance})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rerankExact reorders approximate candidates by exact distance against the
// raw vectors and truncates to k.
func (ix *IVF) rerankExact(query []float32, candidates []index.SearchResult, k int) ([]index.SearchResult, error) {
	out := candidates[:0]
	for _, cand := range candidates {
		vec, ok := ix.raw.Get(cand.ID)
		if !ok {
			continue
		}
		out = append(out, index.SearchResult{ID: cand.ID, Distance: ix.distFunc(query, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Vector returns the stored (possibly normalized) vector for a row id.
func (ix *IVF) Vector(id uint64) ([]float32, bool) {
	return ix.raw.Get(id)
}

// Partitioner exposes the trained coarse partitioner, for persistence.
func (ix *IVF) Partitioner() *ivf.Partitioner { return ix.partitioner }

// Quantizer returns the configured quantizer, or nil.
func (ix *IVF) Quantizer() quantization.Quantizer { return ix.opts.Quantizer }

// Dimension returns the configured vector dimension.
func (ix *IVF) Dimension() int { return ix.opts.Dimension }

// Metric returns the configured distance metric.
func (ix *IVF) Metric() distance.Metric { return ix.opts.Metric }

// PartitionLens reports the entry count of each partition, useful for
// balance diagnostics.
func (ix *IVF) PartitionLens() []int {
	if !ix.trained {
		return nil
	}
	lens := make([]int, len(ix.partitions))
	for i, p := range ix.partitions {
		lens[i] = p.Len()
	}
	return lens
}
