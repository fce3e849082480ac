// Package server implements the HTTP API of the civic legal assistant:
// question answering, retrieval-only search, interaction statistics, health
// and readiness probes and Prometheus metrics.
// The server is started by the `civic serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/civic-go/internal/assistant"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/rag"
)

// maxBodyBytes caps request bodies; questions are short.
const maxBodyBytes = 64 << 10

// fallbackAnswer is returned in the response field when the answer model
// failed, so clients always have something to show.
const fallbackAnswer = "Sorry, I could not answer that right now. Please try again."

// New constructs a Server from the provided services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Assistant == nil {
		return nil, fmt.Errorf("server: assistant must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.ChatTimeout + 15*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		asker:    deps.Assistant,
		searcher: deps.Search,
		history:  deps.History,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.trustProxy = cfg.TrustProxy
	s.stopRL = stop

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", rl.middleware(protect(s.handleChat)))
	mux.Handle("POST /api/search", rl.middleware(protect(s.handleSearch)))
	mux.Handle("GET /api/interactions/count", protect(s.handleInteractionCount))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		log.Warn("server: CIVIC_API_KEY not set, /api routes are unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.metrics.instrument(cors(cfg.AllowedOrigin, mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. It always responds with JSON: the reply
// on success, or an error with a fallback answer on timeout (504) or model
// failure (502).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()
	s.metrics.chatInFlight.Inc()
	defer s.metrics.chatInFlight.Dec()

	outcome := "ok"
	defer func() {
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	var req assistant.Request
	if err := decodeJSON(w, r, &req); err != nil {
		outcome = "invalid"
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		outcome = "invalid"
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	reply, err := s.asker.Ask(ctx, req)
	switch {
	case err == nil:
		writeJSON(w, log, http.StatusOK, reply)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		log.Warn("chat: timed out", slog.Duration("timeout", s.cfg.ChatTimeout))
		writeJSON(w, log, http.StatusGatewayTimeout, errorResponse{
			Error:    "the assistant took too long to answer",
			Response: fallbackAnswer,
		})
	case errors.Is(err, assistant.ErrEmptyMessage):
		outcome = "invalid"
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "message is required"})
	default:
		outcome = "error"
		log.Error("chat: answer failed", slog.String("error", err.Error()))
		writeJSON(w, log, http.StatusBadGateway, errorResponse{
			Error:    "the answer model is unavailable",
			Response: fallbackAnswer,
		})
	}
}

// maxSearchK caps initial_k and final_k on POST /api/search. The broad
// search and the cross-encoder both scale with k.
const maxSearchK = 100

// handleSearch handles POST /api/search: retrieval and reranking only, with
// scores, for inspecting what the assistant would ground an answer on. It is
// bounded by the chat timeout.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.searcher == nil {
		writeJSON(w, log, http.StatusServiceUnavailable, errorResponse{Error: "search is not enabled"})
		return
	}

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	if req.InitialK < 0 || req.FinalK < 0 {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "initial_k and final_k must not be negative"})
		return
	}
	initialK, finalK := min(req.InitialK, maxSearchK), min(req.FinalK, maxSearchK)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	cands, err := s.searcher.Search(ctx, req.Query, initialK, finalK)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn("search: timed out", slog.Duration("timeout", s.cfg.ChatTimeout))
		writeJSON(w, log, http.StatusGatewayTimeout, errorResponse{Error: "retrieval took too long"})
		return
	}
	if err != nil {
		log.Error("search: failed", slog.String("error", err.Error()), slog.String("kind", rag.KindOf(err).String()))
		writeJSON(w, log, http.StatusBadGateway, errorResponse{Error: "retrieval failed"})
		return
	}

	resp := searchResponse{Query: req.Query, Passages: make([]passage, len(cands))}
	for i, c := range cands {
		resp.Passages[i] = passage{
			ID:         c.ID,
			Source:     c.Source,
			Text:       c.Text,
			Similarity: c.Similarity,
			Score:      c.Score,
		}
	}
	writeJSON(w, log, http.StatusOK, resp)
}

// handleInteractionCount handles GET /api/interactions/count.
func (s *Server) handleInteractionCount(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.history == nil {
		writeJSON(w, log, http.StatusServiceUnavailable, errorResponse{Error: "interaction history is disabled"})
		return
	}
	n, err := s.history.Count(r.Context())
	if err != nil {
		log.Error("interactions: count failed", slog.String("error", err.Error()))
		writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "database query failed"})
		return
	}
	writeJSON(w, log, http.StatusOK, countResponse{TotalInteractions: n})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
