package lance

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/index/flat"
	hnswindex "github.com/PromaChow/lance/index/hnsw"
	ivfindex "github.com/PromaChow/lance/index/ivf"
	"github.com/PromaChow/lance/quantization"
	"github.com/PromaChow/lance/resource"
)

// SearchResult is one ranked (row id, distance) pair.
type SearchResult = index.SearchResult

// Index is the engine handle. It wraps exactly one of the index variants;
// operations dispatch on the kind. The variant set is closed: adding an
// index family means touching every switch below, which is intentional.
type Index struct {
	kind index.Kind
	flat *flat.Flat
	ivf  *ivfindex.IVF
	hnsw *hnswindex.HNSW

	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller

	artifactCodec artifact.Codec
}

// Kind returns the index variant.
func (ix *Index) Kind() index.Kind { return ix.kind }

// Dimension returns the configured vector dimension.
func (ix *Index) Dimension() int {
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Dimension()
	case index.KindIVF:
		return ix.ivf.Dimension()
	default:
		return ix.hnsw.Dimension()
	}
}

// Metric returns the configured distance metric.
func (ix *Index) Metric() distance.Metric {
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Metric()
	case index.KindIVF:
		return ix.ivf.Metric()
	default:
		return ix.hnsw.Metric()
	}
}

// Count returns the number of live vectors.
func (ix *Index) Count() int {
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Count()
	case index.KindIVF:
		return ix.ivf.Count()
	default:
		return ix.hnsw.Count()
	}
}

// Trained reports whether the index accepts inserts and searches. Flat
// indexes need no training and are always ready.
func (ix *Index) Trained() bool {
	switch ix.kind {
	case index.KindFlat:
		return true
	case index.KindIVF:
		return ix.ivf.Trained()
	default:
		return ix.hnsw.Trained()
	}
}

// Train fits the index's learned components (coarse centroids, quantizer
// codebooks) on the sample. Flat indexes ignore it.
func (ix *Index) Train(ctx context.Context, sample [][]float32) error {
	start := time.Now()
	err := ix.train(ctx, sample)
	ix.metrics.RecordTrain(time.Since(start), err)
	ix.logger.LogTrain(ctx, ix.kind.String(), len(sample), err)
	return err
}

func (ix *Index) train(ctx context.Context, sample [][]float32) error {
	if err := ix.resources.AcquireBuildSlot(ctx); err != nil {
		return err
	}
	defer ix.resources.ReleaseBuildSlot()

	bytes := int64(len(sample)) * int64(ix.Dimension()) * 4
	if err := ix.resources.AcquireMemory(ctx, bytes); err != nil {
		return err
	}
	defer ix.resources.ReleaseMemory(bytes)

	switch ix.kind {
	case index.KindFlat:
		return nil
	case index.KindIVF:
		return ix.ivf.Train(ctx, sample)
	default:
		return ix.hnsw.Train(ctx, sample)
	}
}

// Insert adds one vector under the given row id.
func (ix *Index) Insert(ctx context.Context, id uint64, vec []float32) error {
	start := time.Now()
	err := ix.insert(ctx, id, vec)
	ix.metrics.RecordInsert(time.Since(start), err)
	ix.logger.LogInsert(ctx, id, err)
	return err
}

func (ix *Index) insert(ctx context.Context, id uint64, vec []float32) error {
	if err := ix.resources.AdmitIngest(ctx, 1); err != nil {
		return err
	}
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Insert(ctx, id, vec)
	case index.KindIVF:
		return ix.ivf.Insert(ctx, id, vec)
	default:
		return ix.hnsw.Insert(ctx, id, vec)
	}
}

// BulkLoad ingests a stream of (row id, vector) pairs. When the index still
// needs training, the stream is buffered first, the learned components are
// trained on it, and then every vector is inserted. Vectors that fail
// validation are skipped and counted; any other failure aborts the load.
func (ix *Index) BulkLoad(ctx context.Context, data iter.Seq2[uint64, []float32]) error {
	start := time.Now()
	count, failed, err := ix.bulkLoad(ctx, data)
	ix.metrics.RecordBulkLoad(count, failed, time.Since(start))
	if err == nil {
		ix.logger.LogBulkLoad(ctx, count, failed)
	}
	return err
}

func (ix *Index) bulkLoad(ctx context.Context, data iter.Seq2[uint64, []float32]) (count, failed int, err error) {
	if ix.Trained() {
		for id, vec := range data {
			count++
			if err := ix.insert(ctx, id, vec); err != nil {
				if ctx.Err() != nil {
					return count, failed, ctx.Err()
				}
				failed++
			}
		}
		return count, failed, nil
	}

	// Buffer the stream so it can serve as the training sample.
	var ids []uint64
	var vecs [][]float32
	dim := ix.Dimension()
	for id, vec := range data {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if err := ix.resources.AcquireMemory(ctx, int64(dim)*4); err != nil {
			return 0, 0, err
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	defer ix.resources.ReleaseMemory(int64(len(vecs)) * int64(dim) * 4)

	if err := ix.Train(ctx, vecs); err != nil {
		return 0, 0, err
	}

	for i, id := range ids {
		count++
		if err := ix.insert(ctx, id, vecs[i]); err != nil {
			if ctx.Err() != nil {
				return count, failed, ctx.Err()
			}
			failed++
		}
	}
	return count, failed, nil
}

// Delete tombstones a row id. Deleting an absent id is a no-op.
func (ix *Index) Delete(ctx context.Context, id uint64) {
	start := time.Now()
	switch ix.kind {
	case index.KindFlat:
		ix.flat.Delete(id)
	case index.KindIVF:
		ix.ivf.Delete(id)
	default:
		ix.hnsw.Delete(id)
	}
	ix.metrics.RecordDelete(time.Since(start))
	ix.logger.LogDelete(ctx, id)
}

// Vector returns the stored (possibly normalized) vector for a row id.
func (ix *Index) Vector(id uint64) ([]float32, bool) {
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Vector(id)
	case index.KindIVF:
		return ix.ivf.Vector(id)
	default:
		return ix.hnsw.Vector(id)
	}
}

// KNNSearch returns the k nearest live vectors for the query. Most callers
// should prefer the fluent Search builder.
func (ix *Index) KNNSearch(ctx context.Context, query []float32, k int, optFns ...func(o *index.SearchOptions)) ([]SearchResult, error) {
	var opts index.SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	start := time.Now()
	results, err := ix.knnSearch(ctx, query, k, &opts)
	ix.metrics.RecordSearch(k, time.Since(start), err)
	ix.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (ix *Index) knnSearch(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]SearchResult, error) {
	switch ix.kind {
	case index.KindFlat:
		return ix.flat.Search(ctx, query, k, opts)
	case index.KindIVF:
		return ix.ivf.Search(ctx, query, k, opts)
	default:
		return ix.hnsw.Search(ctx, query, k, opts)
	}
}

// SaveTrained writes the index's learned state as versioned artifacts: the
// coarse centroids and quantizer parameters for IVF, the full graph for
// HNSW. Flat indexes have no trained state.
func (ix *Index) SaveTrained(ctx context.Context, w io.Writer) error {
	err := ix.saveTrained(ctx, w)
	ix.logger.LogArtifact(ctx, "save", ix.kind.String(), err)
	return err
}

func (ix *Index) saveTrained(ctx context.Context, w io.Writer) error {
	tw := resource.NewThrottledWriter(ctx, w, ix.resources)
	switch ix.kind {
	case index.KindFlat:
		return &ErrInvalidParameter{Param: "save", Reason: "flat index has no trained state"}
	case index.KindIVF:
		if err := ix.ivf.Partitioner().Save(tw, ix.artifactCodec); err != nil {
			return err
		}
		return saveQuantizer(tw, ix.ivf.Quantizer(), ix.artifactCodec)
	default:
		return ix.hnsw.Save(tw, ix.artifactCodec)
	}
}

// LoadTrained restores learned state saved by SaveTrained into an untrained
// index constructed with the same parameters.
func (ix *Index) LoadTrained(ctx context.Context, r io.Reader) error {
	err := ix.loadTrained(ctx, r)
	ix.logger.LogArtifact(ctx, "load", ix.kind.String(), err)
	return err
}

func (ix *Index) loadTrained(ctx context.Context, r io.Reader) error {
	tr := resource.NewThrottledReader(ctx, r, ix.resources)
	switch ix.kind {
	case index.KindFlat:
		return &ErrInvalidParameter{Param: "load", Reason: "flat index has no trained state"}
	case index.KindIVF:
		if err := ix.ivf.Partitioner().Load(tr); err != nil {
			return err
		}
		if err := loadQuantizer(tr, ix.ivf.Quantizer()); err != nil {
			return err
		}
		return ix.ivf.RestoreTrained()
	default:
		return ix.hnsw.Load(tr)
	}
}

func saveQuantizer(w io.Writer, q quantization.Quantizer, codec artifact.Codec) error {
	switch q := q.(type) {
	case nil:
		return nil
	case *quantization.ProductQuantizer:
		return q.Save(w, codec)
	case *quantization.ScalarQuantizer:
		return q.Save(w, codec)
	default:
		return fmt.Errorf("lance: quantizer %q does not support artifacts", q.Fingerprint())
	}
}

func loadQuantizer(r io.Reader, q quantization.Quantizer) error {
	switch q := q.(type) {
	case nil:
		return nil
	case *quantization.ProductQuantizer:
		return q.Load(r)
	case *quantization.ScalarQuantizer:
		return q.Load(r)
	default:
		return fmt.Errorf("lance: quantizer %q does not support artifacts", q.Fingerprint())
	}
}
