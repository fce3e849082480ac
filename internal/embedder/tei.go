package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TEIEmbedder implements rag.Embedder against a Hugging Face
// text-embeddings-inference server (POST /embed). The model is fixed by the
// server at launch, so no model name is sent.
type TEIEmbedder struct {
	// endpoint is the server base URL (e.g. "http://localhost:8080").
	endpoint string
	// apiKey is sent as a Bearer token when non-empty.
	apiKey string
	// client is the shared HTTP client.
	client *http.Client
}

// TEIConfig holds the settings for constructing a TEIEmbedder.
type TEIConfig struct {
	// Endpoint is the server base URL.
	Endpoint string
	// APIKey is optional; hosted inference endpoints require it.
	APIKey string
}

// NewTEIEmbedder constructs a TEIEmbedder from the given config.
func NewTEIEmbedder(cfg *TEIConfig) *TEIEmbedder {
	return &TEIEmbedder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// teiEmbedRequest is the JSON body sent to /embed.
type teiEmbedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
	Truncate  bool     `json:"truncate"`
}

// Embed converts a batch of texts into normalised embeddings.
func (e *TEIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + e.apiKey}
	}

	var result [][]float32
	err := postJSON(ctx, e.client, e.endpoint+"/embed", headers,
		teiEmbedRequest{Inputs: texts, Normalize: true, Truncate: true}, &result)
	if err != nil {
		return nil, fmt.Errorf("tei embedder: %w", err)
	}

	if len(result) != len(texts) {
		return nil, fmt.Errorf("tei embedder: expected %d embeddings, got %d", len(texts), len(result))
	}
	return result, nil
}
