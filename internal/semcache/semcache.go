// Package semcache implements the Semantic Cache (spec.md §4.J): a
// cosine-threshold nearest-neighbor lookup over previously answered
// queries, tagged so it can share a vector store with other knowledge data
// without being confused for it.
//
// Grounded on original_source/src/intelligence/cache.py's SemanticCache
// (threshold=0.95, context_type=semantic_cache tag, global_cache session
// id, query embedded/indexed while the response rides along as metadata).
// VectorStore is an external collaborator per spec.md §1's embedding
// Non-goal; no concrete vector-store client exists anywhere in the teacher
// pack to ground a specific third-party choice against, so this package
// also ships an in-memory brute-force implementation sufficient to drive
// the interface and its tests.
package semcache

import (
	"context"
	"math"
)

const (
	// ContextTypeSemanticCache tags entries this package owns inside a
	// shared vector store (spec.md §4.J).
	ContextTypeSemanticCache = "semantic_cache"
	globalCacheSessionID     = "global_cache"
	defaultThreshold         = 0.95
)

// Entry is one stored vector plus its tagged metadata.
type Entry struct {
	Vector   []float32
	Metadata map[string]any
}

// Hit is a search result: the entry plus its cosine similarity score.
type Hit struct {
	Entry Entry
	Score float64
}

// VectorStore is the embedding-backed collaborator this cache depends on
// (spec.md §4.J, §6 "vector store shared with other knowledge data").
type VectorStore interface {
	Add(ctx context.Context, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Delete(ctx context.Context, filter map[string]any) error
}

// Embedder produces a query's embedding. Defined here rather than imported
// from internal/llm to keep semcache free of an LLM dependency; the
// orchestrator supplies internal/llm.Collaborator.Embed as this function.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Cache is the Semantic Cache.
type Cache struct {
	Store     VectorStore
	Embed     Embedder
	Threshold float64
}

func New(store VectorStore, embed Embedder) *Cache {
	return &Cache{Store: store, Embed: embed, Threshold: defaultThreshold}
}

// Get embeds query, retrieves the top-1 neighbor at cosine >= Threshold,
// and returns its cached response if the neighbor is tagged
// context_type=semantic_cache (spec.md §4.J).
func (c *Cache) Get(ctx context.Context, query string) (string, bool, error) {
	vector, err := c.Embed(ctx, query)
	if err != nil {
		return "", false, err
	}
	hits, err := c.Store.Search(ctx, vector, 1)
	if err != nil {
		return "", false, err
	}
	if len(hits) == 0 {
		return "", false, nil
	}
	top := hits[0]
	if top.Score < c.Threshold {
		return "", false, nil
	}
	if top.Entry.Metadata["context_type"] != ContextTypeSemanticCache {
		return "", false, nil
	}
	resp, ok := top.Entry.Metadata["cached_response"].(string)
	if !ok {
		return "", false, nil
	}
	return resp, true, nil
}

// Set embeds query and stores the pair tagged for this cache, under the
// shared "global_cache" session id (spec.md §4.J). Set is synchronous, and
// the orchestrator's planner calls it inline; no background-task tracker
// runs it, so there is no pending cache write for shutdown to wait on.
func (c *Cache) Set(ctx context.Context, query, response string) error {
	if query == "" || response == "" {
		return nil
	}
	vector, err := c.Embed(ctx, query)
	if err != nil {
		return err
	}
	return c.Store.Add(ctx, vector, map[string]any{
		"context_type":    ContextTypeSemanticCache,
		"query":           query,
		"cached_response": response,
		"session_id":      globalCacheSessionID,
	})
}

// cosineSimilarity computes the cosine of the angle between a and b,
// returning 0 if either is the zero vector.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
