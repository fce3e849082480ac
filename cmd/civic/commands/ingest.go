package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/civic-go/internal/embedder"
	"github.com/54b3r/civic-go/internal/ingestion"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/rag"
)

// NewIngestCmd constructs the `civic ingest` command, which loads law
// documents into a Qdrant collection ahead of time so `civic serve` can
// start without re-embedding them.
func NewIngestCmd() *cobra.Command {
	var sourceFlags []string
	var batchSize, minChars int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load law documents into the Qdrant index",
		Long: `Split law documents into labelled sections, embed them and upsert them
into Qdrant. Chunk IDs are deterministic, so re-ingesting a document
overwrites its previous chunks.

Each --source is "path[=strategy[:label]]". The strategy is "section"
(Section 12. / 12. Heading) or "numbered" (12. at line start). Omitted parts
are inferred from the file name. Without --source, CIVIC_SOURCES is used.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: civic-law)
  EMBEDDING_*          Embedder settings (see README)

Examples:
  civic ingest --source constitution.txt
  civic ingest --source "laws/labour.pdf=section:Labour Act" --source criminal_code.txt=numbered`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			var sources []ingestion.Source
			var err error
			if len(sourceFlags) > 0 {
				sources, err = ingestion.ParseSources(strings.Join(sourceFlags, ","))
			} else {
				sources, err = sourcesFromEnv()
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			qcfg := qdrantConfigFromEnv(embedder.Dimensions(ctx, emb, embedder.Backend()))
			if qcfg == nil {
				return fmt.Errorf("ingest: QDRANT_HOST is required, an in-memory index would be discarded on exit")
			}
			store, err := rag.NewQdrantStore(ctx, qcfg)
			if err != nil {
				return fmt.Errorf("ingest: failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
			}
			defer store.Close()
			log.Info("qdrant store ready",
				slog.String("host", qcfg.Host),
				slog.Int("port", qcfg.Port),
				slog.String("collection", qcfg.Collection),
				slog.Uint64("dimensions", qcfg.VectorSize),
			)

			pipeline, err := ingestion.NewPipeline(emb, store, &ingestion.Config{
				BatchSize: batchSize,
				MinChars:  minChars,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))
			report, err := pipeline.Ingest(ctx, sources, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}
			logReport(log, report)

			if report.Total() == 0 {
				return fmt.Errorf("ingest: no chunks were written")
			}
			log.Info("ingestion complete",
				slog.Int("chunks", report.Total()),
				slog.Int("failed_sources", len(report.Failed())),
			)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&sourceFlags, "source", "s", nil, "Document to ingest as path[=strategy[:label]] (repeatable)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Chunks embedded per request (default 32)")
	cmd.Flags().IntVar(&minChars, "min-chars", getEnvInt("RAG_MIN_CHUNK_CHARS", 0), "Drop sections shorter than this many characters")

	return cmd
}
