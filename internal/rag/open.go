package rag

import (
	"context"
	"log/slog"
	"time"
)

// qdrantDialTimeout bounds how long OpenStore waits for Qdrant before
// falling back to memory.
const qdrantDialTimeout = 5 * time.Second

// OpenStore returns a Qdrant-backed store when cfg names a reachable server,
// and an in-memory store otherwise. A failed connection is logged at WARN and
// never returned: callers always get a usable VectorStore.
func OpenStore(ctx context.Context, cfg *QdrantConfig, log *slog.Logger) VectorStore {
	if log == nil {
		log = slog.Default()
	}
	if cfg == nil || cfg.Host == "" {
		log.Info("vector store: using in-memory index")
		return NewMemoryStore()
	}

	dialCtx, cancel := context.WithTimeout(ctx, qdrantDialTimeout)
	defer cancel()

	qs, err := NewQdrantStore(dialCtx, cfg)
	if err != nil {
		log.Warn("vector store: qdrant unavailable, falling back to in-memory index",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
			slog.String("error", err.Error()),
		)
		return NewMemoryStore()
	}

	log.Info("vector store: using qdrant",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("collection", cfg.Collection),
	)
	return qs
}
