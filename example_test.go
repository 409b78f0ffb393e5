package knnquery_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/knnquery"
	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native/flat"
	"github.com/hupe1980/knnquery/segment"
)

// exampleLeaf builds a leaf of 100 docs where doc i has vector [i, i, i, i]
// and stores its flat engine file.
func exampleLeaf(ctx context.Context, store *blobstore.MemoryStore) (*segment.Memory, error) {
	docs := make([]model.DocID, 100)
	vecs := make([][]float32, 100)
	for i := range docs {
		docs[i] = model.DocID(i)
		x := float32(i)
		vecs[i] = []float32{x, x, x, x}
	}
	data, err := flat.EncodeFloat(distance.SpaceL2, docs, vecs)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, "seg_0_embedding.flat", data); err != nil {
		return nil, err
	}

	leaf := segment.NewMemory(0, "seg_0", 0, 100)
	fi := segment.FieldInfo{Name: "embedding", Dimension: 4, Space: distance.SpaceL2, Engine: flat.EngineName}
	if err := leaf.AddFloatField(fi, docs, vecs); err != nil {
		return nil, err
	}
	if err := leaf.SetEngineFiles("embedding", "seg_0_embedding.flat"); err != nil {
		return nil, err
	}
	return leaf, nil
}

func Example() {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	leaf, err := exampleLeaf(ctx, store)
	if err != nil {
		log.Fatal(err)
	}

	cache := knnquery.NewCache(flat.New(), store, knnquery.CacheConfig{})
	defer cache.Close()

	s, err := knnquery.NewSearcher(nil, cache, nil)
	if err != nil {
		log.Fatal(err)
	}
	top, err := s.Search(ctx, []segment.Leaf{leaf}, &knnquery.Query{
		Field:  "embedding",
		Vector: []float32{50, 50, 50, 50},
		K:      5,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(top.DocIDs())
	// Output: [50 49 51 48 52]
}

func ExampleSearcher_Explain() {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	leaf, err := exampleLeaf(ctx, store)
	if err != nil {
		log.Fatal(err)
	}

	cache := knnquery.NewCache(flat.New(), store, knnquery.CacheConfig{})
	defer cache.Close()

	s, _ := knnquery.NewSearcher(nil, cache, nil)
	exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &knnquery.Query{
		Field:  "embedding",
		Vector: []float32{10, 10, 10, 10},
		K:      3,
		Filter: segment.DocsFilter{0: {8, 9, 10, 11, 12}},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(exp)
	// Output:
	// first pass k 3, rescored false, expanded false, 3 hits
	//   seg_0: exact, cardinality 5, 3 hits
}
