// Package index provides the shared types, parameters and error kinds used by
// the vector index implementations (flat, ivf, hnsw).
package index

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Kind identifies an index implementation. The set is closed: the query
// executor dispatches on it with a switch, not an open hierarchy.
type Kind int

const (
	KindFlat Kind = iota
	KindIVF
	KindHNSW
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "FLAT"
	case KindIVF:
		return "IVF"
	case KindHNSW:
		return "HNSW"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// SearchResult is one ranked (row id, distance) pair.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// FilterFunc reports whether a row id is eligible for a search.
// A nil filter admits every row.
type FilterFunc func(id uint64) bool

// SearchOptions carries the per-query tuning parameters. Zero values fall
// back to the index defaults.
type SearchOptions struct {
	// EF is the layer-0 beam width for HNSW searches. Must be >= k.
	EF int

	// NProbe is the number of coarse partitions scanned per IVF query.
	NProbe int

	// Filter restricts results to admitted row ids. Applied during the scan
	// when cheaply pushable, otherwise as a post-filter.
	Filter FilterFunc

	// Rerank re-scores the merged top candidates with exact distances
	// against the original vectors before truncating to k.
	Rerank bool

	// RerankFactor scales how many candidates are kept for reranking
	// (factor * k). Defaults to 4 when Rerank is set.
	RerankFactor int
}

// BitmapFilter adapts a roaring bitmap of admitted row ids to a FilterFunc.
func BitmapFilter(bm *roaring64.Bitmap) FilterFunc {
	if bm == nil {
		return nil
	}
	return bm.Contains
}

// ErrNotBuilt is returned when an index is searched before build/train.
var ErrNotBuilt = errors.New("index not built")

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidParameter indicates an out-of-range or inconsistent parameter.
// The call is rejected before any state change.
type ErrInvalidParameter struct {
	Param  string
	Reason string
}

func (e *ErrInvalidParameter) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// ErrInsufficientTrainingData indicates a training sample smaller than the
// minimum required for the requested model.
type ErrInsufficientTrainingData struct {
	Required int
	Got      int
}

func (e *ErrInsufficientTrainingData) Error() string {
	return fmt.Sprintf("insufficient training data: need at least %d samples, got %d", e.Required, e.Got)
}

// ValidateDimension rejects vectors whose length differs from the configured
// index dimension.
func ValidateDimension(dim int, v []float32) error {
	if len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}
	return nil
}

// ValidateK rejects non-positive k.
func ValidateK(k int) error {
	if k <= 0 {
		return &ErrInvalidParameter{Param: "k", Reason: "must be positive"}
	}
	return nil
}
