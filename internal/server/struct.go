package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/civic-go/internal/assistant"
	"github.com/54b3r/civic-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed ChatTimeout so timed-out chats still get their JSON error body.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat request end to end (default: 60s).
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// TrustProxy keys rate limits by X-Forwarded-For. Enable only behind a
	// reverse proxy that sets it.
	TrustProxy bool
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// AllowedOrigin is sent as Access-Control-Allow-Origin (default: "*").
	AllowedOrigin string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker answers one chat request. *assistant.Assistant satisfies it; tests
// inject a fake.
type asker interface {
	Ask(ctx context.Context, req assistant.Request) (*assistant.Reply, error)
}

// searcher runs retrieval without generation. *engine.Engine satisfies it.
type searcher interface {
	Search(ctx context.Context, question string, initialK, finalK int) ([]rag.Candidate, error)
}

// counter reports the size of the interaction log. *store.SQLiteStore
// satisfies it.
type counter interface {
	Count(ctx context.Context) (int, error)
}

// Deps are the domain services behind the HTTP routes. Assistant is
// required; a nil Search or History disables its route with 503.
type Deps struct {
	Assistant asker
	Search    searcher
	History   counter
}

// Server is the HTTP front end of the legal assistant.
type Server struct {
	// asker answers POST /api/chat.
	asker asker
	// searcher answers POST /api/search; nil disables the route.
	searcher searcher
	// history answers GET /api/interactions/count; nil disables the route.
	history counter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query    string `json:"query"`
	InitialK int    `json:"initial_k,omitempty"`
	FinalK   int    `json:"final_k,omitempty"`
}

// passage is one reranked search hit.
type passage struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
	Score      float32 `json:"score"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Query    string    `json:"query"`
	Passages []passage `json:"passages"`
}

// countResponse is the JSON response for GET /api/interactions/count.
type countResponse struct {
	TotalInteractions int `json:"total_interactions"`
}

// errorResponse is the JSON body of every non-2xx API response. Response
// carries a user-presentable fallback answer on chat failures.
type errorResponse struct {
	Error    string `json:"error"`
	Response string `json:"response,omitempty"`
}
