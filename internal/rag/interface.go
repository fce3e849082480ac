// Package rag defines the retrieval building blocks for the legal assistant:
// statute chunks, the vector index that stores them, the embedder that maps
// text into the index's vector space, and the pairwise scorer used to rerank
// broad-search candidates. Concrete backends (Qdrant, in-memory, Ollama, TEI)
// satisfy these interfaces so the engine never depends on a specific service.
package rag

import (
	"context"
)

// Chunk is an immutable unit of retrievable statute text.
type Chunk struct {
	// ID is unique within a collection (e.g. "constitution_12").
	ID string

	// Text is the chunk content, already prefixed with the source label so the
	// label participates in retrieval matching.
	Text string

	// Source is the human-readable label of the law the chunk came from.
	Source string
}

// Candidate pairs a chunk with the scores it earned during a single query.
type Candidate struct {
	Chunk

	// Similarity is the vector similarity assigned by the broad search.
	Similarity float32

	// Score is the pairwise relevance assigned by the reranker.
	// Zero until the candidate has been reranked.
	Score float32
}

// VectorStore persists chunk embeddings and answers nearest-neighbour queries.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores a batch of chunks with their pre-computed embeddings.
	// embeddings[i] is the vector for chunks[i]. An existing ID is overwritten.
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// Search returns up to topK chunks ordered by descending similarity.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Candidate, error)

	// Delete removes chunks by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of chunks currently stored.
	Count(ctx context.Context) (int, error)

	// IDs returns the ID of every stored chunk, in no particular order.
	IDs(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vectors. The same Embedder (and model
// version) must be used for chunks and queries.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings parallel to the input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Scorer judges how relevant each passage is to a query. It is a pairwise
// model (cross-encoder), distinct from the Embedder.
// Implementations must be safe to call from multiple goroutines.
type Scorer interface {
	// Score returns one relevance score per passage, parallel to passages.
	// Higher means more relevant.
	Score(ctx context.Context, query string, passages []string) ([]float32, error)
}
