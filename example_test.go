package lance_test

import (
	"context"
	"fmt"
	"log"

	"github.com/PromaChow/lance"
)

// Example_flatBuilder demonstrates exact search with the fluent builder.
func Example_flatBuilder() {
	ix, err := lance.Flat(2). // 2-dimensional vectors
					SquaredL2(). // Distance metric
					Build()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	_ = ix.Insert(ctx, 1, []float32{0, 0})
	_ = ix.Insert(ctx, 2, []float32{1, 0})
	_ = ix.Insert(ctx, 3, []float32{0, 2})

	nearest, err := ix.Search([]float32{0.9, 0.1}).First(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("nearest id:", nearest.ID)
	// Output: nearest id: 2
}

// Example_hnswBuilder demonstrates approximate graph search.
func Example_hnswBuilder() {
	ix, err := lance.HNSW(2). // 2-dimensional vectors
					M(8).           // Graph connectivity
					EFSearch(64).   // Query beam width
					RandomSeed(42). // Deterministic layer assignment
					Build()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = ix.Insert(ctx, uint64(i), []float32{float32(i), 0})
	}

	results, err := ix.Search([]float32{50.2, 0}).KNN(3).Execute(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, r := range results {
		fmt.Println(r.ID)
	}
	// Output:
	// 50
	// 51
	// 49
}

// Example_ivfBuilder demonstrates a trained, quantized inverted-file index.
func Example_ivfBuilder() {
	ix, err := lance.IVF(4). // 4-dimensional vectors
					Partitions(2). // Coarse clusters
					NProbe(2).     // Partitions scanned per query
					SQ(8).         // Scalar-quantized storage
					RandomSeed(42).
					Build()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	sample := [][]float32{
		{0, 0, 0, 0}, {0.5, 0, 0, 0}, {0, 0.5, 0, 0},
		{9, 9, 9, 9}, {9.5, 9, 9, 9}, {9, 9.5, 9, 9},
	}
	if err := ix.Train(ctx, sample); err != nil {
		log.Fatal(err)
	}
	for i, v := range sample {
		_ = ix.Insert(ctx, uint64(i), v)
	}

	nearest, err := ix.Search([]float32{9, 9, 9, 9.1}).First(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("nearest id:", nearest.ID)
	// Output: nearest id: 3
}
