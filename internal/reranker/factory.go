package reranker

import (
	"fmt"
	"os"

	"github.com/54b3r/civic-go/internal/rag"
)

// DefaultTEIModel is the cross-encoder the TEI reranker is expected to serve.
// The server fixes the model at launch; RERANKER_MODEL only documents it.
const DefaultTEIModel = "BAAI/bge-reranker-base"

// Backend returns the configured reranker backend (RERANKER_PROVIDER),
// defaulting to "overlap".
func Backend() string {
	if b := os.Getenv("RERANKER_PROVIDER"); b != "" {
		return b
	}
	return "overlap"
}

// Model returns RERANKER_MODEL, or the default cross-encoder for tei.
func Model() string {
	if m := os.Getenv("RERANKER_MODEL"); m != "" {
		return m
	}
	if Backend() == "tei" {
		return DefaultTEIModel
	}
	return "lexical-overlap"
}

// NewFromEnv constructs the rag.Scorer selected by RERANKER_PROVIDER.
//
//	overlap  deterministic lexical scorer (default, no server)
//	tei      cross-encoder behind RERANKER_ENDPOINT (/rerank)
func NewFromEnv() (rag.Scorer, error) {
	switch b := Backend(); b {
	case "overlap":
		return NewOverlapScorer(), nil
	case "tei":
		endpoint := os.Getenv("RERANKER_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("reranker: tei requires RERANKER_ENDPOINT (e.g. http://localhost:8081)")
		}
		return NewTEIScorer(&TEIConfig{
			Endpoint: endpoint,
			APIKey:   os.Getenv("RERANKER_API_KEY"),
		}), nil
	default:
		return nil, fmt.Errorf("reranker: unknown backend %q, valid values: overlap, tei", b)
	}
}
