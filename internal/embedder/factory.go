// Package embedder provides implementations of the rag.Embedder interface for
// converting statute text and questions into dense vectors. Each
// implementation talks to a different backend (Ollama, OpenAI, Azure OpenAI,
// Hugging Face text-embeddings-inference, or a custom /predict model server)
// over plain HTTP.
package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/civic-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultTEIModel    = "sentence-transformers/all-MiniLM-L6-v2"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultTEIDimensions is the output dimension of all-MiniLM-L6-v2.
	defaultTEIDimensions = 384
)

// Backends lists the accepted EMBEDDING_PROVIDER values.
var Backends = []string{"ollama", "openai", "azure", "tei", "predict"}

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER when that names an embedding-capable backend, then ollama.
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	switch b := getEnv("MODEL_PROVIDER"); b {
	case "openai", "azure":
		return b
	default:
		return "ollama"
	}
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "tei":
		return defaultTEIDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// Dimensions returns the vector size the store must be created with.
// EMBEDDING_DIMENSIONS wins; otherwise the embedder is probed with a short
// text, falling back to DefaultDimensions if the probe fails.
func Dimensions(ctx context.Context, emb rag.Embedder, backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	if vecs, err := emb.Embed(ctx, []string{"dimension probe"}); err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
		return len(vecs[0])
	}
	return DefaultDimensions(backend)
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, see Backend
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS requests a specific output size (openai/azure only)
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		}), nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "tei":
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: tei requires EMBEDDING_ENDPOINT (e.g. http://localhost:8080)")
		}
		return NewTEIEmbedder(&TEIConfig{
			Endpoint: endpoint,
			APIKey:   getEnv("EMBEDDING_API_KEY"),
		}), nil

	case "predict":
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: predict requires EMBEDDING_ENDPOINT (the model server base URL)")
		}
		return NewPredictEmbedder(&PredictConfig{
			Endpoint: endpoint,
			APIKey:   getEnv("EMBEDDING_API_KEY"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: %v", backend, Backends)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
