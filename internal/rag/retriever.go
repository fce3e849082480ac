package rag

import (
	"context"
	"fmt"
)

// DefaultInitialK is the broad-search width used when the caller passes 0.
const DefaultInitialK = 15

// Retriever performs the broad recall step: it embeds the question with the
// same model used at load time and asks the store for the nearest chunks.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultK is the number of results to return when the caller passes 0.
	defaultK int
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
// defaultK sets the fallback result count when Search is called with k <= 0.
func NewRetriever(embedder Embedder, store VectorStore, defaultK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultK <= 0 {
		defaultK = DefaultInitialK
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		defaultK: defaultK,
	}, nil
}

// Search embeds the question and returns up to k nearest chunks in
// descending similarity order. An empty index yields an empty slice and no
// error, without calling the embedder.
func (r *Retriever) Search(ctx context.Context, question string, k int) ([]Candidate, error) {
	if k <= 0 {
		k = r.defaultK
	}

	n, err := r.store.Count(ctx)
	if err != nil {
		return nil, &Error{Kind: KindQueryFailure, Err: fmt.Errorf("count index: %w", err)}
	}
	if n == 0 {
		return []Candidate{}, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, &Error{Kind: KindQueryFailure, Err: fmt.Errorf("embed query: %w", err)}
	}
	if len(embeddings) == 0 {
		return nil, &Error{Kind: KindQueryFailure, Err: fmt.Errorf("embedder returned empty result for query")}
	}

	found, err := r.store.Search(ctx, embeddings[0], k)
	if err != nil {
		return nil, &Error{Kind: KindQueryFailure, Err: fmt.Errorf("vector search: %w", err)}
	}

	return found, nil
}
