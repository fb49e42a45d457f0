// This file implements the fluent search API.
package lance

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PromaChow/lance/index"
)

// Search creates a fluent search builder for the query vector.
//
// Example:
//
//	results, err := ix.Search(query).
//	    KNN(10).
//	    NProbe(8).
//	    Rerank().
//	    Execute(ctx)
func (ix *Index) Search(query []float32) *SearchBuilder {
	return &SearchBuilder{ix: ix, query: query, k: 10}
}

// SearchBuilder accumulates per-query parameters.
type SearchBuilder struct {
	ix    *Index
	query []float32
	k     int

	ef           int
	nprobe       int
	filter       index.FilterFunc
	rerank       bool
	rerankFactor int
}

// KNN sets the number of neighbors to return.
func (sb *SearchBuilder) KNN(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// EF sets the beam width for graph searches. Must be >= k.
func (sb *SearchBuilder) EF(ef int) *SearchBuilder {
	sb.ef = ef
	return sb
}

// NProbe sets how many coarse partitions an IVF search scans.
func (sb *SearchBuilder) NProbe(n int) *SearchBuilder {
	sb.nprobe = n
	return sb
}

// Filter admits only row ids for which fn returns true.
func (sb *SearchBuilder) Filter(fn func(id uint64) bool) *SearchBuilder {
	sb.filter = fn
	return sb
}

// FilterBitmap admits only row ids present in the bitmap.
func (sb *SearchBuilder) FilterBitmap(bm *roaring64.Bitmap) *SearchBuilder {
	sb.filter = index.BitmapFilter(bm)
	return sb
}

// Rerank re-scores the top candidates with exact distances before
// truncating to k. Only meaningful on quantized indexes.
func (sb *SearchBuilder) Rerank() *SearchBuilder {
	sb.rerank = true
	return sb
}

// RerankFactor sets how many candidates are gathered for reranking
// (factor * k). Implies Rerank.
func (sb *SearchBuilder) RerankFactor(factor int) *SearchBuilder {
	sb.rerank = true
	sb.rerankFactor = factor
	return sb
}

// Execute runs the search.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	return sb.ix.KNNSearch(ctx, sb.query, sb.k, func(o *index.SearchOptions) {
		o.EF = sb.ef
		o.NProbe = sb.nprobe
		o.Filter = sb.filter
		o.Rerank = sb.rerank
		o.RerankFactor = sb.rerankFactor
	})
}

// MustExecute runs the search, panicking on error. For tests.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []SearchResult {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// First returns only the nearest result.
func (sb *SearchBuilder) First(ctx context.Context) (SearchResult, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if len(results) == 0 {
		return SearchResult{}, ErrNotFound
	}
	return results[0], nil
}

// Exists reports whether at least one result matches.
func (sb *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}
