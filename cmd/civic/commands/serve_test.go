package commands

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/54b3r/civic-go/internal/judge"
	"github.com/54b3r/civic-go/internal/store"
)

// recordingGrader scores every sample 80 and remembers the queries it saw.
type recordingGrader struct {
	mu      sync.Mutex
	queries []string
}

func (g *recordingGrader) Grade(_ context.Context, s judge.Sample) (judge.Grade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, s.Query)
	return judge.Grade{Score: 80, Reason: "accurate", Parsed: true}, nil
}

func openHistoryForTest(t *testing.T, queries ...string) *store.SQLiteStore {
	t.Helper()
	hs, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })
	for _, q := range queries {
		if _, err := hs.Log(t.Context(), &store.Interaction{
			UserQuery:  q,
			TargetLang: "english",
			RAGContext: "[Constitution] Section 1. This Constitution is supreme.",
			ModelReply: "Basically, the law states that the Constitution is supreme.",
		}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	return hs
}

func TestRequeuePending_GradesBacklog(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	log := slog.New(slog.DiscardHandler)
	hs := openHistoryForTest(t, "What is the supreme law?", "Can police detain me?", "What is the minimum wage?")

	if err := hs.Grade(ctx, 2, 90, "already graded"); err != nil {
		t.Fatalf("grade: %v", err)
	}

	g := &recordingGrader{}
	q := judge.NewQueue(g, hs, judge.QueueConfig{Workers: 1, Logger: log})
	if n := requeuePending(ctx, hs, q, requeueLimit, log); n != 2 {
		t.Errorf("want 2 resubmitted, got %d", n)
	}
	q.Close()

	pending, err := hs.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("backlog should be graded, %d rows still pending", len(pending))
	}
	if len(g.queries) != 2 || g.queries[0] != "What is the supreme law?" {
		t.Errorf("graded queries = %v, want the two ungraded rows oldest first", g.queries)
	}
}

func TestRequeuePending_StopsWhenQueueRejects(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	log := slog.New(slog.DiscardHandler)
	hs := openHistoryForTest(t, "What is the supreme law?")

	q := judge.NewQueue(&recordingGrader{}, hs, judge.QueueConfig{Logger: log})
	q.Close()

	if n := requeuePending(ctx, hs, q, requeueLimit, log); n != 0 {
		t.Errorf("closed queue accepted %d jobs", n)
	}
	if pending, _ := hs.Pending(ctx, 10); len(pending) != 1 {
		t.Errorf("rejected row should stay pending, got %d", len(pending))
	}
}
