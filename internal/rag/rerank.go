package rag

import (
	"context"
	"fmt"
	"sort"
)

// DefaultFinalK is the number of passages kept after reranking when the
// caller passes 0.
const DefaultFinalK = 3

// Reranker reorders broad-search candidates using a pairwise Scorer and keeps
// the best finalK.
type Reranker struct {
	// scorer assigns one relevance score per (question, passage) pair.
	scorer Scorer
}

// NewReranker constructs a Reranker over the given Scorer.
func NewReranker(scorer Scorer) (*Reranker, error) {
	if scorer == nil {
		return nil, fmt.Errorf("rag: scorer must not be nil")
	}
	return &Reranker{scorer: scorer}, nil
}

// Rerank scores every candidate against question, sorts by descending score
// and truncates to finalK. Ties keep their retrieval order. The input slice is
// not modified. The result length is min(finalK, len(candidates)).
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []Candidate, finalK int) ([]Candidate, error) {
	if finalK <= 0 {
		finalK = DefaultFinalK
	}
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Text
	}

	scores, err := r.scorer.Score(ctx, question, passages)
	if err != nil {
		return nil, &Error{Kind: KindQueryFailure, Err: fmt.Errorf("rerank: %w", err)}
	}
	if len(scores) != len(candidates) {
		return nil, &Error{Kind: KindQueryFailure,
			Err: fmt.Errorf("rerank: scorer returned %d scores for %d passages", len(scores), len(candidates))}
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = scores[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if finalK < len(ranked) {
		ranked = ranked[:finalK]
	}
	return ranked, nil
}

// Texts returns the chunk texts of candidates in order.
func Texts(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Text
	}
	return out
}
