package semcache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a brute-force, cosine-ranked VectorStore good enough to
// drive Cache without a concrete third-party vector-database client
// (spec.md §1 Non-goal: embedding/vector-store computation is external; no
// such client exists in the teacher pack to ground one against).
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Add(_ context.Context, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Vector: vector, Metadata: metadata})
	return nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, limit int) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{Entry: e, Score: cosineSimilarity(vector, e.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) Delete(_ context.Context, filter map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []Entry
	for _, e := range m.entries {
		if matchesFilter(e.Metadata, filter) {
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return nil
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
