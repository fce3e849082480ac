// Package engine is the composition root of the retrieval pipeline. An Engine
// owns the embedder, vector store, scorer and document sources, loads the
// sources into the store exactly once, and answers QueryLaw with a broad
// vector search followed by cross-encoder reranking.
//
// Lifecycle: Uninitialized -> Loading -> Loaded. Load may be called
// explicitly at startup; otherwise the first query triggers it. Concurrent
// first queries block on the same load rather than starting their own.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/54b3r/civic-go/internal/ingestion"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/rag"
)

// State is the engine's load state.
type State int32

const (
	// StateUninitialized means no source has been read yet.
	StateUninitialized State = iota
	// StateLoading means a load is in progress.
	StateLoading
	// StateLoaded means the index is ready to query, possibly empty.
	StateLoaded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the dependencies and tuning for an Engine.
type Config struct {
	// Embedder encodes chunks at load time and questions at query time.
	Embedder rag.Embedder

	// Store holds the indexed chunks. The Engine takes ownership and closes it.
	Store rag.VectorStore

	// Scorer is the pairwise relevance model used for reranking.
	Scorer rag.Scorer

	// Sources lists the law documents to load.
	Sources []ingestion.Source

	// InitialK is the broad-search width when callers pass 0. Defaults to 15.
	InitialK int

	// FinalK is the reranked result count when callers pass 0. Defaults to 3.
	FinalK int

	// BatchSize is the embedding batch size used while loading.
	BatchSize int

	// MinChars is the default minimum chunk length for sources that set none.
	MinChars int

	// ReuseIndex skips ingestion on first load when the store already holds
	// chunks, e.g. a Qdrant collection populated by `civic ingest`.
	ReuseIndex bool

	// Lazy marks an engine that is left to load on its first query. Ping then
	// reports ready before the load so a readiness probe lets that query in.
	Lazy bool

	// Metrics is optional instrumentation.
	Metrics *Metrics
}

// Engine is the retrieval context object. It is safe for concurrent use.
type Engine struct {
	// mu serialises Load, Reload and Close.
	mu sync.Mutex

	// state holds a State; read without mu on the query fast path.
	state atomic.Int32

	store     rag.VectorStore
	retriever *rag.Retriever
	reranker  *rag.Reranker
	pipeline  *ingestion.Pipeline
	sources   []ingestion.Source
	initialK  int
	finalK    int
	reuse     bool
	lazy      bool
	metrics   *Metrics

	// report is the outcome of the most recent load. Guarded by mu.
	report *ingestion.Report
	// closed is set by Close under mu and read without it by Ping.
	closed atomic.Bool
}

// New builds an Engine in the Uninitialized state. No source is read until
// Load or the first query.
func New(cfg Config) (*Engine, error) {
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("engine: scorer must not be nil")
	}
	retriever, err := rag.NewRetriever(cfg.Embedder, cfg.Store, cfg.InitialK)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	reranker, err := rag.NewReranker(cfg.Scorer)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	pipeline, err := ingestion.NewPipeline(cfg.Embedder, cfg.Store, &ingestion.Config{
		BatchSize: cfg.BatchSize,
		MinChars:  cfg.MinChars,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	initialK := cfg.InitialK
	if initialK <= 0 {
		initialK = rag.DefaultInitialK
	}
	finalK := cfg.FinalK
	if finalK <= 0 {
		finalK = rag.DefaultFinalK
	}

	return &Engine{
		store:     cfg.Store,
		retriever: retriever,
		reranker:  reranker,
		pipeline:  pipeline,
		sources:   cfg.Sources,
		initialK:  initialK,
		finalK:    finalK,
		reuse:     cfg.ReuseIndex,
		lazy:      cfg.Lazy,
		metrics:   cfg.Metrics,
	}, nil
}

// State returns the current load state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Load reads every source into the index once. Later calls return the first
// load's report without re-reading. Missing or unparseable sources are
// skipped and listed in the report. An error is returned only when ctx ends
// mid-load, in which case the engine returns to Uninitialized and the next
// call retries.
func (e *Engine) Load(ctx context.Context) (*ingestion.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, fmt.Errorf("engine: closed")
	}
	if e.State() == StateLoaded {
		return e.report, nil
	}
	return e.load(ctx, false)
}

// Reload re-reads every source and replaces the index contents: chunks are
// re-upserted under their deterministic IDs, then every stored chunk the run
// did not produce is deleted. That includes chunks of sources dropped from the
// configuration and chunks found in a reused index. A source that fails to
// load keeps its previous chunks. Queries keep being served during the reload
// from the previous contents.
func (e *Engine) Reload(ctx context.Context) (*ingestion.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, fmt.Errorf("engine: closed")
	}
	return e.load(ctx, true)
}

// load runs the pipeline. Callers hold mu. A reload leaves the state at
// Loaded throughout so queries are not blocked.
func (e *Engine) load(ctx context.Context, reload bool) (*ingestion.Report, error) {
	log := logging.FromContext(ctx)
	prior := e.State()
	if prior != StateLoaded {
		e.state.Store(int32(StateLoading))
	}

	if !reload && e.reuse {
		if n, err := e.store.Count(ctx); err == nil && n > 0 {
			log.Info("engine: reusing populated index", slog.Int("chunks", n))
			e.report = &ingestion.Report{}
			e.state.Store(int32(StateLoaded))
			return e.report, nil
		}
	}

	start := time.Now()
	report, err := e.pipeline.Ingest(ctx, e.sources, nil)
	if err != nil {
		e.state.Store(int32(prior))
		return nil, fmt.Errorf("engine: load: %w", err)
	}

	if reload {
		e.deleteStale(ctx, report)
	}

	var skipped []string
	for _, f := range report.Failed() {
		skipped = append(skipped, rag.KindOf(f.Err).String())
	}
	e.metrics.observeLoad(report.Total(), skipped)

	log.Info("engine: index loaded",
		slog.Int("sources", len(e.sources)),
		slog.Int("skipped", len(skipped)),
		slog.Int("chunks", report.Total()),
		slog.Duration("elapsed", time.Since(start)),
	)
	if report.Total() == 0 {
		log.Warn("engine: index is empty, queries will return no passages",
			slog.String("kind", rag.KindEmptyIndex.String()))
	}

	e.report = report
	e.state.Store(int32(StateLoaded))
	return report, nil
}

// deleteStale removes every stored chunk that report did not write, except
// chunks belonging to a source that failed in this run. When the store cannot
// list its IDs the previous report's IDs are used instead.
func (e *Engine) deleteStale(ctx context.Context, report *ingestion.Report) {
	log := logging.FromContext(ctx)

	stored, err := e.store.IDs(ctx)
	if err != nil {
		log.Warn("engine: cannot list stored chunks, pruning from the previous load only",
			slog.String("error", err.Error()))
		if e.report != nil {
			stored = e.report.IDs
		}
	}

	keep := make(map[string]bool, len(report.IDs))
	for _, id := range report.IDs {
		keep[id] = true
	}
	var failed []string
	for _, f := range report.Failed() {
		failed = append(failed, f.Source.Name)
	}

	var stale []string
	for _, id := range stored {
		if !keep[id] && !ownedByAny(id, failed) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := e.store.Delete(ctx, stale); err != nil {
		log.Warn("engine: failed to delete stale chunks",
			slog.Int("count", len(stale)),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Info("engine: stale chunks deleted", slog.Int("count", len(stale)))
}

// ownedByAny reports whether id has the form <name>_<n> for one of names.
func ownedByAny(id string, names []string) bool {
	for _, name := range names {
		rest, ok := strings.CutPrefix(id, name+"_")
		if ok && rest != "" && strings.Trim(rest, "0123456789") == "" {
			return true
		}
	}
	return false
}

// ensureLoaded triggers Load if the engine has not loaded yet.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.State() == StateLoaded {
		return nil
	}
	_, err := e.Load(ctx)
	return err
}

// QueryLaw returns the texts of the finalK most relevant chunks for question,
// most relevant first. initialK <= 0 uses the configured broad-search width
// (15) and finalK <= 0 the configured result count (3). An empty index yields
// an empty slice and no error. Embedding or reranking failures are returned
// as rag.ErrQueryFailure.
func (e *Engine) QueryLaw(ctx context.Context, question string, initialK, finalK int) ([]string, error) {
	cands, err := e.Search(ctx, question, initialK, finalK)
	if err != nil {
		return nil, err
	}
	return rag.Texts(cands), nil
}

// Search is QueryLaw returning full candidates with their similarity and
// rerank scores.
func (e *Engine) Search(ctx context.Context, question string, initialK, finalK int) ([]rag.Candidate, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		e.metrics.observeQuery("error", 0)
		return nil, err
	}
	if initialK <= 0 {
		initialK = e.initialK
	}
	if finalK <= 0 {
		finalK = e.finalK
	}

	start := time.Now()
	found, err := e.retriever.Search(ctx, question, initialK)
	e.metrics.observeStage("search", time.Since(start).Seconds())
	if err != nil {
		e.metrics.observeQuery("error", 0)
		return nil, err
	}
	if len(found) == 0 {
		e.metrics.observeQuery("empty", 0)
		return []rag.Candidate{}, nil
	}

	start = time.Now()
	ranked, err := e.reranker.Rerank(ctx, question, found, finalK)
	e.metrics.observeStage("rerank", time.Since(start).Seconds())
	if err != nil {
		e.metrics.observeQuery("error", 0)
		return nil, err
	}

	e.metrics.observeQuery("ok", len(ranked))
	logging.FromContext(ctx).Debug("engine: query answered",
		slog.Int("retrieved", len(found)),
		slog.Int("returned", len(ranked)),
	)
	return ranked, nil
}

// Chunks returns the number of chunks currently in the index.
func (e *Engine) Chunks(ctx context.Context) (int, error) {
	n, err := e.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the engine can serve queries. It is used by the
// readiness probe. A lazy engine is ready before and during its first load,
// since that load runs inside the first query. A closed engine is never ready.
func (e *Engine) Ping(_ context.Context) error {
	if e.closed.Load() {
		return fmt.Errorf("engine: closed")
	}
	s := e.State()
	if s == StateLoaded || e.lazy {
		return nil
	}
	return fmt.Errorf("engine: index %s", s)
}

// Close releases the vector store. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil
	}
	e.closed.Store(true)
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("engine: close store: %w", err)
	}
	return nil
}
