// Package config loads civic settings from a .env file and an optional YAML
// file and publishes them as environment variables, which every other
// package reads. Precedence is defaults, then YAML, then .env, then the real
// environment: a value already present in the environment is never replaced.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. CIVIC_CONFIG environment variable
//  3. ~/.civic/config.yaml
//  4. ./civic.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML document. Field names mirror the env vars they feed.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Judge     JudgeConfig     `yaml:"judge"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	RAG       RAGConfig       `yaml:"rag"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ModelConfig holds the answer model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`
	// MaxTokens caps the reply length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls sampling randomness (0.0-1.0).
	Temperature float32 `yaml:"temperature"`

	Ollama  OllamaConfig  `yaml:"ollama"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Azure   AzureConfig   `yaml:"azure"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Gemini  GeminiConfig  `yaml:"gemini"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI settings. Prefer OPENAI_API_KEY for the key.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds settings for a Bedrock-compatible gateway.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// JudgeConfig overrides the answer model for grading. Empty fields inherit.
type JudgeConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// EmbeddingConfig holds the embedder settings.
type EmbeddingConfig struct {
	// Provider selects the backend: ollama, openai, azure, tei.
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
}

// RerankerConfig holds the cross-encoder settings.
type RerankerConfig struct {
	// Provider selects the backend: tei or overlap.
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// QdrantConfig holds the persistent index settings. An empty host keeps
// the index in memory.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	TLS        bool   `yaml:"tls"`
}

// RAGConfig holds the law sources and retrieval tuning.
type RAGConfig struct {
	// Sources lists law documents as "path[=strategy[:label]]" entries.
	Sources       []string `yaml:"sources"`
	InitialK      int      `yaml:"initial_k"`
	FinalK        int      `yaml:"final_k"`
	MinChunkChars int      `yaml:"min_chunk_chars"`
	// ReuseIndex skips ingestion when the store already holds chunks.
	ReuseIndex bool `yaml:"reuse_index"`
	// TranslateQuestions translates non-English questions before retrieval.
	TranslateQuestions bool `yaml:"translate_questions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey protects /api routes. Prefer CIVIC_API_KEY.
	APIKey        string `yaml:"api_key"`
	AllowedOrigin string `yaml:"allowed_origin"`
	// ChatTimeout is a Go duration string such as "45s".
	ChatTimeout string `yaml:"chat_timeout"`
	TrustProxy  bool   `yaml:"trust_proxy"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds interaction log settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML fields to the env vars they populate.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"BEDROCK_BASE_URL", func(c *Config) string { return c.Model.Bedrock.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"JUDGE_PROVIDER", func(c *Config) string { return c.Judge.Provider }},
	{"JUDGE_MODEL", func(c *Config) string { return c.Judge.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"RERANKER_PROVIDER", func(c *Config) string { return c.Reranker.Provider }},
	{"RERANKER_ENDPOINT", func(c *Config) string { return c.Reranker.Endpoint }},
	{"RERANKER_MODEL", func(c *Config) string { return c.Reranker.Model }},
	{"RERANKER_API_KEY", func(c *Config) string { return c.Reranker.APIKey }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"CIVIC_SOURCES", func(c *Config) string { return strings.Join(c.RAG.Sources, ",") }},
	{"RAG_INITIAL_K", func(c *Config) string { return intStr(c.RAG.InitialK) }},
	{"RAG_FINAL_K", func(c *Config) string { return intStr(c.RAG.FinalK) }},
	{"RAG_MIN_CHUNK_CHARS", func(c *Config) string { return intStr(c.RAG.MinChunkChars) }},
	{"RAG_REUSE_INDEX", func(c *Config) string { return boolStr(c.RAG.ReuseIndex) }},
	{"TRANSLATE_QUESTIONS", func(c *Config) string { return boolStr(c.RAG.TranslateQuestions) }},
	{"CIVIC_HOST", func(c *Config) string { return c.Server.Host }},
	{"CIVIC_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CIVIC_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"CIVIC_ALLOWED_ORIGIN", func(c *Config) string { return c.Server.AllowedOrigin }},
	{"CIVIC_CHAT_TIMEOUT", func(c *Config) string { return c.Server.ChatTimeout }},
	{"CIVIC_TRUST_PROXY", func(c *Config) string { return boolStr(c.Server.TrustProxy) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"CIVIC_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding existing variables. An empty path means ./.env. A missing file
// is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// Load reads the YAML config file and applies its non-empty values as
// environment variables. Returns the path loaded, or "" if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied, err := apply(&cfg)
	if err != nil {
		return "", fmt.Errorf("config: %s: %w", path, err)
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

// apply publishes cfg as env vars, skipping zero values and keys the
// environment already defines.
func apply(cfg *Config) (int, error) {
	applied := 0
	for _, m := range envMapping {
		v := m.value(cfg)
		if v == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return applied, fmt.Errorf("set %s: %w", m.envKey, err)
		}
		applied++
	}
	return applied, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if fileExists(explicit) {
			return explicit
		}
		return ""
	}
	if p := os.Getenv("CIVIC_CONFIG"); p != "" && fileExists(p) {
		return p
	}
	if home, err := os.UserHomeDir(); err == nil {
		if p := filepath.Join(home, ".civic", "config.yaml"); fileExists(p) {
			return p
		}
	}
	if fileExists("civic.yaml") {
		return "civic.yaml"
	}
	return ""
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(float64(v), 'f', 4, 32), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
