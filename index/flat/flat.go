// Package flat provides the exact-scan index. It is O(N) per query and
// serves as the correctness oracle for the approximate indexes.
package flat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/queue"
	"github.com/PromaChow/lance/vectorstore"
)

// Options configures the flat index.
type Options struct {
	Dimension int
	Metric    distance.Metric
}

// Flat scans every live vector with the exact distance kernels.
//
// Thread safety: single writer (Insert/Delete), many concurrent readers.
type Flat struct {
	opts     Options
	distFunc distance.Func
	vectors  *vectorstore.Columnar

	mu         sync.RWMutex
	tombstones *roaring64.Bitmap
}

// New creates an empty flat index.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := Options{Metric: distance.MetricL2}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dimension", Reason: "must be positive"}
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, &index.ErrInvalidParameter{Param: "metric", Reason: err.Error()}
	}

	return &Flat{
		opts:       opts,
		distFunc:   distFunc,
		vectors:    vectorstore.New(opts.Dimension),
		tombstones: roaring64.New(),
	}, nil
}

// Insert adds a vector under the given row id. The vector is validated
// before any state change.
func (f *Flat) Insert(ctx context.Context, id uint64, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateDimension(f.opts.Dimension, vec); err != nil {
		return err
	}

	if distance.NeedsNormalization(f.opts.Metric) {
		normalized, ok := distance.NormalizeL2Copy(vec)
		if !ok {
			return fmt.Errorf("flat: cannot normalize zero vector")
		}
		vec = normalized
	}

	return f.vectors.Set(id, vec)
}

// Delete tombstones a row id. The vector stays in storage but is skipped
// during scans.
func (f *Flat) Delete(id uint64) {
	f.mu.Lock()
	f.tombstones.Add(id)
	f.mu.Unlock()
}

func (f *Flat) tombstoneView() *roaring64.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.tombstones.IsEmpty() {
		return nil
	}
	return f.tombstones.Clone()
}

// Count returns the number of live vectors.
func (f *Flat) Count() int {
	f.mu.RLock()
	dead := int(f.tombstones.GetCardinality())
	f.mu.RUnlock()
	return f.vectors.Count() - dead
}

// Search scans all live vectors and returns the k nearest, ordered by
// ascending distance with ties broken by ascending row id. Fewer than k
// results are returned when eligible candidates are scarce.
func (f *Flat) Search(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	if err := index.ValidateDimension(f.opts.Dimension, query); err != nil {
		return nil, err
	}

	if distance.NeedsNormalization(f.opts.Metric) {
		normalized, ok := distance.NormalizeL2Copy(query)
		if !ok {
			return nil, fmt.Errorf("flat: cannot normalize zero query vector")
		}
		query = normalized
	}

	var filter index.FilterFunc
	if opts != nil {
		filter = opts.Filter
	}

	ids, data := f.vectors.Snapshot()
	dim := f.opts.Dimension
	dead := f.tombstoneView()

	top := queue.NewMax(k)
	for i, id := range ids {
		// Filter and tombstone checks are pushed ahead of the distance
		// computation.
		if filter != nil && !filter(id) {
			continue
		}
		if dead != nil && dead.Contains(id) {
			continue
		}

		d := f.distFunc(query, data[i*dim:(i+1)*dim])
		if top.Len() < k {
			top.Push(queue.Item{ID: id, Distance: d})
			continue
		}
		if worst, _ := top.Top(); d < worst.Distance || (d == worst.Distance && id < worst.ID) {
			top.Pop()
			top.Push(queue.Item{ID: id, Distance: d})
		}
	}

	return drainAscending(top), nil
}

// drainAscending empties a max-heap into a slice ordered by ascending
// distance, ties by ascending id.
func drainAscending(top *queue.PriorityQueue) []index.SearchResult {
	out := make([]index.SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := top.Pop()
		out[i] = index.SearchResult{ID: item.ID, Distance: item.Distance}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Vector returns the stored (possibly normalized) vector for a row id.
func (f *Flat) Vector(id uint64) ([]float32, bool) {
	return f.vectors.Get(id)
}

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int { return f.opts.Dimension }

// Metric returns the configured distance metric.
func (f *Flat) Metric() distance.Metric { return f.opts.Metric }
