// Package vectorstore provides the in-memory columnar storage for raw
// vectors, keyed by row id. Indexes that keep original vectors (flat, hnsw)
// and the exact-rerank path read from it.
package vectorstore

import (
	"fmt"
	"iter"
	"sync"

	"github.com/PromaChow/lance/index"
)

// Columnar stores vectors contiguously in a single []float32 slice for cache
// locality, with a row-id to slot mapping on the side.
//
// Entries are append-only and never mutated in place, so a vector slice
// returned by Get stays valid even while a writer appends: slice growth
// reallocates, it never touches published elements.
//
// Thread safety: single writer, many concurrent readers.
type Columnar struct {
	dim int

	mu    sync.RWMutex
	slots map[uint64]int
	ids   []uint64
	data  []float32
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) *Columnar {
	return &Columnar{
		dim:   dim,
		slots: make(map[uint64]int),
	}
}

// Dimension returns the configured vector dimension.
func (s *Columnar) Dimension() int { return s.dim }

// Set appends a vector under the given row id. Row ids are immutable:
// storing a duplicate id is rejected.
func (s *Columnar) Set(id uint64, vec []float32) error {
	if err := index.ValidateDimension(s.dim, vec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[id]; ok {
		return fmt.Errorf("vectorstore: duplicate row id %d", id)
	}

	s.slots[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.data = append(s.data, vec...)
	return nil
}

// Get returns the vector stored under id. The returned slice is a read-only
// view into the store.
func (s *Columnar) Get(id uint64) ([]float32, bool) {
	s.mu.RLock()
	slot, ok := s.slots[id]
	data := s.data
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return data[slot*s.dim : (slot+1)*s.dim : (slot+1)*s.dim], true
}

// Count returns the number of stored vectors.
func (s *Columnar) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns the current ids and the flattened vector data. Both are
// stable views: later appends reallocate rather than mutate.
func (s *Columnar) Snapshot() (ids []uint64, data []float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[:len(s.ids):len(s.ids)], s.data[:len(s.data):len(s.data)]
}

// All iterates over (row id, vector) pairs in insertion order.
func (s *Columnar) All() iter.Seq2[uint64, []float32] {
	ids, data := s.Snapshot()
	return func(yield func(uint64, []float32) bool) {
		for i, id := range ids {
			if !yield(id, data[i*s.dim:(i+1)*s.dim]) {
				return
			}
		}
	}
}
