package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/civic-go/internal/embedder"
	"github.com/54b3r/civic-go/internal/engine"
	"github.com/54b3r/civic-go/internal/ingestion"
	"github.com/54b3r/civic-go/internal/rag"
	"github.com/54b3r/civic-go/internal/reranker"
	"github.com/54b3r/civic-go/internal/server"
	"github.com/54b3r/civic-go/internal/store"
	"github.com/54b3r/civic-go/internal/translate"
)

// defaultSources is used when CIVIC_SOURCES is unset.
const defaultSources = "constitution.txt"

// defaultCollection is the Qdrant collection name when QDRANT_COLLECTION is
// unset.
const defaultCollection = "civic-law"

// sourcesFromEnv parses CIVIC_SOURCES.
func sourcesFromEnv() ([]ingestion.Source, error) {
	sources, err := ingestion.ParseSources(getEnvOrDefault("CIVIC_SOURCES", defaultSources))
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("CIVIC_SOURCES lists no documents")
	}
	return sources, nil
}

// qdrantConfigFromEnv returns the Qdrant settings, or nil when QDRANT_HOST is
// unset and the index should stay in memory.
func qdrantConfigFromEnv(vectorSize int) *rag.QdrantConfig {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		return nil
	}
	return &rag.QdrantConfig{
		Host:       host,
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", defaultCollection),
		VectorSize: uint64(max(vectorSize, 0)),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     getEnvBool("QDRANT_TLS", false),
	}
}

// retrieval is the assembled retrieval stack. qdrant is nil when the index
// is held in memory.
type retrieval struct {
	engine *engine.Engine
	qdrant *rag.QdrantStore
}

// buildEngine wires embedder, vector store, reranker and sources into an
// Engine from the environment. A nil reg disables engine metrics; lazy marks
// an engine the caller will not Load up front. The engine owns the store;
// callers Close the engine.
func buildEngine(ctx context.Context, log *slog.Logger, reg prometheus.Registerer, lazy bool) (*retrieval, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	backend := embedder.Backend()

	scorer, err := reranker.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise reranker: %w", err)
	}

	sources, err := sourcesFromEnv()
	if err != nil {
		return nil, err
	}

	var qcfg *rag.QdrantConfig
	if os.Getenv("QDRANT_HOST") != "" {
		qcfg = qdrantConfigFromEnv(embedder.Dimensions(ctx, emb, backend))
	}
	vs := rag.OpenStore(ctx, qcfg, log)

	var metrics *engine.Metrics
	if reg != nil {
		metrics = engine.NewMetrics(reg)
	}

	eng, err := engine.New(engine.Config{
		Embedder:   emb,
		Store:      vs,
		Scorer:     scorer,
		Sources:    sources,
		InitialK:   getEnvInt("RAG_INITIAL_K", rag.DefaultInitialK),
		FinalK:     getEnvInt("RAG_FINAL_K", rag.DefaultFinalK),
		MinChars:   getEnvInt("RAG_MIN_CHUNK_CHARS", ingestion.DefaultMinChars),
		ReuseIndex: getEnvBool("RAG_REUSE_INDEX", qcfg != nil),
		Lazy:       lazy,
		Metrics:    metrics,
	})
	if err != nil {
		_ = vs.Close()
		return nil, err
	}

	log.Info("retrieval initialised",
		slog.String("embedder", backend),
		slog.String("reranker", reranker.Backend()),
		slog.String("reranker_model", reranker.Model()),
		slog.Int("sources", len(sources)),
	)

	qs, _ := vs.(*rag.QdrantStore)
	return &retrieval{engine: eng, qdrant: qs}, nil
}

// logReport writes one line per source of an ingestion run.
func logReport(log *slog.Logger, report *ingestion.Report) {
	if report == nil {
		return
	}
	for _, s := range report.Sources {
		if s.Err != nil {
			log.Warn("source skipped",
				slog.String("path", s.Source.Path),
				slog.String("kind", rag.KindOf(s.Err).String()),
				slog.String("error", s.Err.Error()),
			)
			continue
		}
		log.Info("source loaded",
			slog.String("path", s.Source.Path),
			slog.String("label", s.Source.Label),
			slog.Int("chunks", s.Chunks),
		)
	}
}

// openHistory opens the interaction log named by CIVIC_HISTORY_DB. It
// returns nil when history is disabled or the database cannot be opened;
// neither stops the server.
func openHistory(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("CIVIC_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via CIVIC_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
		dbPath = p
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// buildTranslator returns a model-backed translator when TRANSLATE_QUESTIONS
// is set, and nil otherwise.
func buildTranslator(m model.BaseChatModel, log *slog.Logger) translate.Translator {
	if !getEnvBool("TRANSLATE_QUESTIONS", false) {
		return nil
	}
	t, err := translate.NewChatTranslator(m)
	if err != nil {
		log.Warn("translation disabled", slog.Any("error", err))
		return nil
	}
	log.Info("question translation enabled")
	return t
}

// buildPingers assembles the readiness probes for the configured backends.
func buildPingers(r *retrieval, history *store.SQLiteStore) []server.Pinger {
	client := &http.Client{Timeout: 5 * time.Second}
	pingers := []server.Pinger{server.NewPingFunc("index", r.engine.Ping)}

	if r.qdrant != nil {
		pingers = append(pingers, server.NewPingFunc("qdrant", r.qdrant.Ping))
	}
	if history != nil {
		pingers = append(pingers, server.NewPingFunc("history", history.Ping))
	}
	if getEnvOrDefault("MODEL_PROVIDER", "ollama") == "ollama" {
		pingers = append(pingers, server.NewHTTPPinger("ollama",
			getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"), "/api/tags", client))
	}
	if embedder.Backend() == "tei" {
		if ep := os.Getenv("EMBEDDING_ENDPOINT"); ep != "" {
			pingers = append(pingers, server.NewHTTPPinger("embedder", ep, "/health", client))
		}
	}
	if reranker.Backend() == "tei" {
		pingers = append(pingers, server.NewHTTPPinger("reranker", os.Getenv("RERANKER_ENDPOINT"), "/health", client))
	}
	return pingers
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses key as an int, returning fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvBool parses key with strconv.ParseBool, returning fallback when
// unset or invalid.
func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvDuration parses key as a Go duration, returning fallback when unset
// or invalid.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
