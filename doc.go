// Package lance is an embedded approximate nearest-neighbor search engine.
//
// It provides three index families behind one handle:
//
//   - Flat: exact O(N) scan, the correctness baseline.
//   - IVF: k-means coarse partitioning with multi-probe scans, optionally
//     over product- or scalar-quantized codes with exact reranking.
//   - HNSW: a navigable small-world graph for logarithmic-ish search,
//     optionally scoring its beam on product-quantized codes.
//
// Indexes are constructed through fluent builders and queried through a
// fluent search API:
//
//	ix, err := lance.IVF(128).
//	    Partitions(100).
//	    NProbe(10).
//	    PQ(8, 256).
//	    RandomSeed(42).
//	    Build()
//	if err != nil { ... }
//
//	if err := ix.Train(ctx, sample); err != nil { ... }
//	if err := ix.Insert(ctx, 1, vec); err != nil { ... }
//
//	results, err := ix.Search(query).KNN(10).Rerank().Execute(ctx)
//
// All indexes rank by distance where smaller is better: squared Euclidean
// for L2, 1-cos for cosine (vectors are normalized on insert), and negated
// dot product for inner-product similarity. Ties are broken by ascending
// row id.
//
// Trained state (centroids, codebooks, full HNSW graphs) round-trips
// through versioned, checksummed artifacts; see SaveTrained and
// LoadTrained.
package lance
