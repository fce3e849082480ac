// Package reranker provides rag.Scorer implementations: pairwise relevance
// models that judge (question, passage) pairs during the precision stage of
// retrieval. TEIScorer calls a cross-encoder served by Hugging Face
// text-embeddings-inference; OverlapScorer is a deterministic lexical scorer
// for offline use.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIScorer implements rag.Scorer using the text-embeddings-inference
// POST /rerank endpoint with a cross-encoder model such as
// BAAI/bge-reranker-base. It is safe for concurrent use.
type TEIScorer struct {
	// endpoint is the server base URL (e.g. "http://localhost:8081").
	endpoint string
	// apiKey is sent as a Bearer token when non-empty.
	apiKey string
	// client is the shared HTTP client.
	client *http.Client
}

// TEIConfig holds the settings for constructing a TEIScorer.
type TEIConfig struct {
	// Endpoint is the reranker server base URL.
	Endpoint string
	// APIKey is optional.
	APIKey string
	// Timeout bounds each rerank call. Defaults to 30s.
	Timeout time.Duration
}

// NewTEIScorer constructs a TEIScorer from the given config.
func NewTEIScorer(cfg *TEIConfig) *TEIScorer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TEIScorer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// teiRerankRequest is the JSON body sent to /rerank.
type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

// teiRank is one element of the /rerank response. The server returns ranks
// sorted by score, so index maps each back to its passage.
type teiRank struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Score returns the cross-encoder logit for each passage, parallel to passages.
func (s *TEIScorer) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	payload, err := json.Marshal(teiRerankRequest{Query: query, Texts: passages, RawScores: true, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("tei reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tei reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tei reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tei reranker: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ranks []teiRank
	if err := json.NewDecoder(resp.Body).Decode(&ranks); err != nil {
		return nil, fmt.Errorf("tei reranker: decode response: %w", err)
	}
	if len(ranks) != len(passages) {
		return nil, fmt.Errorf("tei reranker: expected %d scores, got %d", len(passages), len(ranks))
	}

	scores := make([]float32, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range ranks {
		if r.Index < 0 || r.Index >= len(passages) || seen[r.Index] {
			return nil, fmt.Errorf("tei reranker: invalid or duplicate index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}
