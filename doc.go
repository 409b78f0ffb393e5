// Package knnquery executes k-nearest-neighbor and radius vector queries
// over the segments (leaves) of a shard.
//
// Every leaf is answered either by its native index (approximate) or by an
// exact scan over the leaf's stored vectors. The choice is made per leaf
// from the filter cardinality, k and a distance-computation budget. Leaf
// results are then reduced, optionally rescored at full precision and
// merged into a global top-k with shard-global document ids.
//
// # Quick Start
//
//	store := blobstore.NewLocalStore("/var/lib/knn")
//	cache := knnquery.NewCache(flat.New(), store, knnquery.CacheConfig{CapacityBytes: 1 << 30})
//	defer cache.Close()
//
//	s, _ := knnquery.NewSearcher(nil, cache, nil)
//	top, _ := s.Search(ctx, leaves, &knnquery.Query{
//	    Field:  "embedding",
//	    Vector: query,
//	    K:      10,
//	})
//	for _, d := range top.Docs {
//	    fmt.Println(d.Doc, d.Score)
//	}
//
// # Filtering
//
// A Query.Filter restricts the candidates of every leaf. Small filters are
// answered exactly; large ones are passed to the native index as a sorted
// id batch or a dense bitmap:
//
//	top, _ := s.Search(ctx, leaves, &knnquery.Query{
//	    Field:  "embedding",
//	    Vector: query,
//	    K:      10,
//	    Filter: segment.DocsFilter{1: {3, 17, 42}},
//	})
//
// # Radius Search
//
// Setting MaxDistance (raw engine distance) or MinScore instead of K
// returns every document within the bound, up to MaxResultWindow per leaf.
//
// # Quantization and Rescoring
//
// Fields with quantization state in the StateStore are searched with
// transformed or quantized queries. A RescoreContext oversamples the first
// pass and rescores the survivors against the full precision vectors:
//
//	q.Rescore = &knnquery.RescoreContext{OversampleFactor: 3}
//
// # Nested Documents
//
// With Query.Parents set, each parent contributes at most its best child.
// ExpandNested additionally returns every sibling of the matched children.
//
// # Observability
//
// WithLogger installs structured slog logging; WithMetrics installs a
// MetricsCollector such as BasicMetricsCollector or PrometheusCollector.
// Explain reports the per-leaf routing of a query.
package knnquery
