package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It is the fallback when no persistent store can be opened and
// the default for tests. Search is stable: equal scores keep insertion order.
type MemoryStore struct {
	// mu guards all fields below.
	mu sync.RWMutex
	// pos maps chunk ID to its slot in chunks/vectors.
	pos map[string]int
	// chunks holds stored chunks in insertion order.
	chunks []Chunk
	// vectors is parallel to chunks.
	vectors [][]float32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pos: make(map[string]int)}
}

// Upsert stores chunks, overwriting any with an existing ID in place.
func (s *MemoryStore) Upsert(_ context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("memory store: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range chunks {
		vec := append([]float32(nil), embeddings[i]...)
		if j, ok := s.pos[c.ID]; ok {
			s.chunks[j] = c
			s.vectors[j] = vec
			continue
		}
		s.pos[c.ID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, vec)
	}
	return nil
}

// Search returns the topK most similar chunks.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(s.chunks) == 0 {
		return []Candidate{}, nil
	}

	results := make([]Candidate, len(s.chunks))
	for i, c := range s.chunks {
		results[i] = Candidate{Chunk: c, Similarity: cosine(queryEmbedding, s.vectors[i])}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes chunks by ID, compacting the remaining slots.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	chunks := s.chunks[:0]
	vectors := s.vectors[:0]
	pos := make(map[string]int, len(s.chunks))
	for i, c := range s.chunks {
		if drop[c.ID] {
			continue
		}
		pos[c.ID] = len(chunks)
		chunks = append(chunks, c)
		vectors = append(vectors, s.vectors[i])
	}
	s.chunks, s.vectors, s.pos = chunks, vectors, pos
	return nil
}

// Count returns the number of stored chunks.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// IDs returns the stored chunk IDs in insertion order.
func (s *MemoryStore) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		ids[i] = c.ID
	}
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 if either is a zero
// vector or the dimensions differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
