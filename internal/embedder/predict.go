package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PredictEmbedder implements rag.Embedder against a single-text model server
// exposing POST /predict {"text": ...} -> {"embedding": [...]}, the contract
// used by custom-container deployments on Vertex AI. The server embeds one
// text per call, so batches are sent sequentially.
type PredictEmbedder struct {
	// endpoint is the server base URL.
	endpoint string
	// apiKey is sent as a Bearer token when non-empty.
	apiKey string
	// client is the shared HTTP client.
	client *http.Client
}

// PredictConfig holds the settings for constructing a PredictEmbedder.
type PredictConfig struct {
	// Endpoint is the server base URL.
	Endpoint string
	// APIKey is optional.
	APIKey string
}

// NewPredictEmbedder constructs a PredictEmbedder from the given config.
func NewPredictEmbedder(cfg *PredictConfig) *PredictEmbedder {
	return &PredictEmbedder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed converts each text in turn, stopping at the first failure.
func (e *PredictEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + e.apiKey}
	}

	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		var result predictResponse
		if err := postJSON(ctx, e.client, e.endpoint+"/predict", headers, predictRequest{Text: t}, &result); err != nil {
			return nil, fmt.Errorf("predict embedder: text %d: %w", i, err)
		}
		if result.Error != "" {
			return nil, fmt.Errorf("predict embedder: text %d: %s", i, result.Error)
		}
		if len(result.Embedding) == 0 {
			return nil, fmt.Errorf("predict embedder: text %d: empty embedding", i)
		}
		out = append(out, result.Embedding)
	}
	return out, nil
}
