// Package ingestion implements the law document loader and the ingestion
// pipeline. Each source file is read, cleaned, split into labelled section
// chunks, embedded in batches and upserted into the vector store. A source
// that is missing or fails to load is recorded and skipped; it never aborts
// the rest of the run. The pipeline backs both the engine's first load and
// the `civic ingest` CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of chunks embedded and upserted per call.
	// Defaults to 32 if zero.
	BatchSize int

	// MinChars is applied to sources that do not set their own threshold.
	// Defaults to DefaultMinChars if zero.
	MinChars int
}

// SourceReport records the outcome of ingesting one source.
type SourceReport struct {
	// Source is the document that was processed.
	Source Source

	// Chunks is the number of chunks written to the store.
	Chunks int

	// Err is the *rag.Error that caused the source to be skipped, or nil.
	Err error
}

// Report summarises an ingestion run.
type Report struct {
	// Sources holds one entry per input source, in input order.
	Sources []SourceReport

	// IDs lists every chunk ID written during the run.
	IDs []string
}

// Total returns the number of distinct chunks written across all sources.
func (r *Report) Total() int {
	seen := make(map[string]struct{}, len(r.IDs))
	for _, id := range r.IDs {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// Failed returns the sources that were skipped or only partially loaded.
func (r *Report) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Pipeline orchestrates the read → split → embed → upsert flow for a set of
// law documents.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}

	return &Pipeline{embedder: embedder, store: store, cfg: cfg}, nil
}

// Ingest loads every source in order. Sources sharing a Name are renamed
// with UniqueNames first. Per-source failures are logged and recorded in the
// report; the only error returned is context cancellation. Progress is
// reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)
	report := &Report{Sources: make([]SourceReport, 0, len(sources))}

	for _, src := range UniqueNames(sources) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingestion: %w", err)
		}
		if src.MinChars <= 0 {
			src.MinChars = p.cfg.MinChars
		}

		progress(fmt.Sprintf("reading %s", src.Path))
		ids, err := p.ingestOne(ctx, src)
		report.IDs = append(report.IDs, ids...)
		report.Sources = append(report.Sources, SourceReport{Source: src, Chunks: len(ids), Err: err})

		switch {
		case err == nil:
			progress(fmt.Sprintf("ingested %d chunks from %s", len(ids), src.Path))
			log.Info("ingestion: source loaded",
				slog.String("path", src.Path),
				slog.String("label", src.Label),
				slog.Int("chunks", len(ids)),
			)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return report, fmt.Errorf("ingestion: %w", err)
		default:
			progress(fmt.Sprintf("skipped %s: %v", src.Path, err))
			log.Warn("ingestion: source skipped",
				slog.String("path", src.Path),
				slog.String("kind", rag.KindOf(err).String()),
				slog.Int("chunks_written", len(ids)),
				slog.String("error", err.Error()),
			)
		}
	}

	return report, nil
}

// ingestOne loads a single source, returning the chunk IDs written so far
// even when it fails part-way.
func (p *Pipeline) ingestOne(ctx context.Context, src Source) ([]string, error) {
	raw, err := Read(src.Path)
	if err != nil {
		return nil, err
	}

	var (
		written []string
		batch   = make([]rag.Chunk, 0, p.cfg.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embed: got %d embeddings for %d chunks", len(embeddings), len(batch))
		}
		if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		for _, c := range batch {
			written = append(written, c.ID)
		}
		batch = batch[:0]
		return nil
	}

	for c := range Split(Clean(raw), src) {
		batch = append(batch, c)
		if len(batch) == p.cfg.BatchSize {
			if err := flush(); err != nil {
				return written, loadFailure(ctx, src, err)
			}
		}
	}
	if err := flush(); err != nil {
		return written, loadFailure(ctx, src, err)
	}

	return written, nil
}

// loadFailure tags err as a LoadFailure for src, except that cancellation is
// passed through untouched so the caller can stop the run.
func loadFailure(ctx context.Context, src Source, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &rag.Error{Kind: rag.KindLoadFailure, Source: src.Path, Err: err}
}
