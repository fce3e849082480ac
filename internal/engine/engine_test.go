package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/civic-go/internal/ingestion"
	"github.com/54b3r/civic-go/internal/rag"
	"github.com/54b3r/civic-go/internal/reranker"
)

const constitution = `CONSTITUTION OF THE FEDERAL REPUBLIC OF NIGERIA
ARRANGEMENT OF SECTIONS
Section 1. This Constitution is supreme and its provisions shall have binding force on the authorities and persons throughout the Federal Republic of Nigeria.
Section 2. Nigeria is one indivisible and indissoluble sovereign state to be known by the name of the Federal Republic of Nigeria.
Section 3. There shall be 36 states in Nigeria, that is to say, Abia, Adamawa, Akwa Ibom and the others listed in the First Schedule.
Section 4. The legislative powers of the Federal Republic of Nigeria shall be vested in a National Assembly for the Federation.
Section 33. Every person has a right to life, and no one shall be deprived intentionally of his life, save in execution of the sentence of a court.
Section 35. Every person shall be entitled to his personal liberty and no person shall be deprived of such liberty save in the cases provided by law.
Section 39. Every person shall be entitled to freedom of expression, including freedom to hold opinions and to receive and impart ideas.`

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	// failQueries makes single-text (query-time) calls fail.
	failQueries bool
	calls       atomic.Int32
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.failQueries && len(texts) == 1 && !strings.HasPrefix(texts[0], "[") {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, 64)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(w))
			vec[f.Sum32()%64]++
		}
		out[i] = vec
	}
	return out, nil
}

// countingStore wraps a MemoryStore and counts upserts.
type countingStore struct {
	*rag.MemoryStore
	upserts atomic.Int32
	closed  atomic.Bool
}

func (c *countingStore) Upsert(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) error {
	c.upserts.Add(1)
	return c.MemoryStore.Upsert(ctx, chunks, embeddings)
}

func (c *countingStore) Close() error {
	c.closed.Store(true)
	return nil
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, []string) ([]float32, error) {
	return nil, errors.New("cross-encoder out of memory")
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *countingStore) {
	t.Helper()
	store := &countingStore{MemoryStore: rag.NewMemoryStore()}
	if cfg.Embedder == nil {
		cfg.Embedder = &hashEmbedder{}
	}
	if cfg.Scorer == nil {
		cfg.Scorer = reranker.NewOverlapScorer()
	}
	cfg.Store = store
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, store
}

func Test_Engine_SupremeLawQuery(t *testing.T) {
	t.Parallel()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src}})

	texts, err := e.QueryLaw(context.Background(), "What is the supreme law?", 15, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(texts) != 3 {
		t.Fatalf("want 3 passages, got %d", len(texts))
	}
	prefix := "[" + src.Label + "] "
	for i, txt := range texts {
		if !strings.HasPrefix(txt, prefix) {
			t.Errorf("passage %d lacks label prefix: %q", i, txt)
		}
	}
	if !strings.Contains(texts[0], "supreme") {
		t.Errorf("most relevant passage should be section 1, got %q", texts[0])
	}

	cands, err := e.Search(context.Background(), "What is the supreme law?", 15, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[i-1].Score {
			t.Errorf("scores not descending at %d: %v > %v", i, cands[i].Score, cands[i-1].Score)
		}
	}
}

func Test_Engine_EmptyEngineReturnsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sources []ingestion.Source
	}{
		{name: "no sources"},
		{name: "missing source", sources: []ingestion.Source{{Path: filepath.Join(t.TempDir(), "gone.txt"), Name: "gone"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			emb := &hashEmbedder{}
			e, _ := newTestEngine(t, Config{Embedder: emb, Sources: tc.sources})

			got, err := e.QueryLaw(context.Background(), "What is the supreme law?", 0, 0)
			if err != nil {
				t.Fatalf("query on empty engine: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("want empty non-nil slice, got %#v", got)
			}
			if e.State() != StateLoaded {
				t.Errorf("want loaded state, got %s", e.State())
			}
			if emb.calls.Load() != 0 {
				t.Errorf("empty index should not embed the question, got %d calls", emb.calls.Load())
			}
		})
	}
}

func Test_Engine_LoadIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, store := newTestEngine(t, Config{Sources: []ingestion.Source{src}})

	if e.State() != StateUninitialized {
		t.Fatalf("want uninitialized before load, got %s", e.State())
	}
	first, err := e.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n1, _ := e.Chunks(ctx)

	second, err := e.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	n2, _ := e.Chunks(ctx)

	if n1 != n2 || n1 != 7 {
		t.Errorf("want 7 chunks after both loads, got %d then %d", n1, n2)
	}
	if first != second {
		t.Error("second load should return the first report")
	}
	if store.upserts.Load() != 1 {
		t.Errorf("want one upsert batch, got %d", store.upserts.Load())
	}
}

func Test_Engine_ConcurrentFirstQueriesLoadOnce(t *testing.T) {
	t.Parallel()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, store := newTestEngine(t, Config{Sources: []ingestion.Source{src}})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.QueryLaw(context.Background(), "freedom of expression", 15, 3)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 3 {
				errs <- errors.New("short result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent query: %v", err)
	}

	if got := store.upserts.Load(); got != 1 {
		t.Errorf("load should run exactly once, got %d upsert batches", got)
	}
}

func Test_Engine_ResultBounds(t *testing.T) {
	t.Parallel()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src}})

	tests := []struct {
		initialK, finalK, want int
	}{
		{initialK: 15, finalK: 3, want: 3},
		{initialK: 15, finalK: 10, want: 7},
		{initialK: 2, finalK: 10, want: 2},
		{initialK: 5, finalK: 1, want: 1},
	}
	for _, tc := range tests {
		got, err := e.QueryLaw(context.Background(), "liberty", tc.initialK, tc.finalK)
		if err != nil {
			t.Fatalf("query(%d,%d): %v", tc.initialK, tc.finalK, err)
		}
		if len(got) != tc.want {
			t.Errorf("query(%d,%d): want %d results, got %d", tc.initialK, tc.finalK, tc.want, len(got))
		}
	}
}

func Test_Engine_QueryFailuresPropagate(t *testing.T) {
	t.Parallel()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))

	t.Run("embedding", func(t *testing.T) {
		t.Parallel()
		e, _ := newTestEngine(t, Config{
			Embedder: &hashEmbedder{failQueries: true},
			Sources:  []ingestion.Source{src},
		})
		_, err := e.QueryLaw(context.Background(), "right to life", 15, 3)
		if !errors.Is(err, rag.ErrQueryFailure) {
			t.Fatalf("want ErrQueryFailure, got %v", err)
		}
	})

	t.Run("rerank", func(t *testing.T) {
		t.Parallel()
		e, _ := newTestEngine(t, Config{Scorer: failingScorer{}, Sources: []ingestion.Source{src}})
		_, err := e.QueryLaw(context.Background(), "right to life", 15, 3)
		if !errors.Is(err, rag.ErrQueryFailure) {
			t.Fatalf("want ErrQueryFailure, got %v", err)
		}
	})
}

func Test_Engine_ReloadReplacesContents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFile(t, "constitution.txt", constitution)
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{ingestion.InferSource(path)}})

	if _, err := e.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	shorter := `Section 1. This Constitution is supreme and binding on all persons in Nigeria.
Section 2. Nigeria is one indivisible and indissoluble sovereign state.`
	if err := os.WriteFile(path, []byte(shorter), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	report, err := e.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if report.Total() != 2 {
		t.Errorf("want 2 chunks written on reload, got %d", report.Total())
	}
	if n, _ := e.Chunks(ctx); n != 2 {
		t.Errorf("reload should drop stale chunks, want 2, got %d", n)
	}
}

func Test_Engine_CancelledLoadRetries(t *testing.T) {
	t.Parallel()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if e.State() != StateUninitialized {
		t.Fatalf("cancelled load should revert to uninitialized, got %s", e.State())
	}
	if err := e.Ping(context.Background()); err == nil {
		t.Error("ping should fail before load")
	}

	if _, err := e.Load(context.Background()); err != nil {
		t.Fatalf("retry load: %v", err)
	}
	if err := e.Ping(context.Background()); err != nil {
		t.Errorf("ping after load: %v", err)
	}
}

func Test_Engine_ReuseIndexSkipsIngest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, store := newTestEngine(t, Config{Sources: []ingestion.Source{src}, ReuseIndex: true})

	_ = store.MemoryStore.Upsert(ctx, []rag.Chunk{{ID: "pre_0", Text: "[Constitution] Section 1. preloaded"}}, [][]float32{make([]float32, 64)})

	if _, err := e.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if store.upserts.Load() != 0 {
		t.Errorf("populated index should be reused, got %d upserts", store.upserts.Load())
	}
}

func Test_Engine_ReloadAfterReuseDropsStaleChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	e, store := newTestEngine(t, Config{Sources: []ingestion.Source{src}, ReuseIndex: true})

	_ = store.MemoryStore.Upsert(ctx,
		[]rag.Chunk{{ID: "repealed_act_0", Text: "[Repealed Act] Section 1. No longer in force."}},
		[][]float32{make([]float32, 64)})

	if _, err := e.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	report, err := e.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	n, _ := e.Chunks(ctx)
	if n != report.Total() || n != 7 {
		t.Errorf("want 7 chunks after reload, got %d (report %d)", n, report.Total())
	}
	ids, _ := store.IDs(ctx)
	for _, id := range ids {
		if id == "repealed_act_0" {
			t.Error("chunk of a source no longer configured survived the reload")
		}
	}
}

func Test_Engine_ReloadKeepsChunksOfFailedSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	constPath := writeFile(t, "constitution.txt", constitution)
	labourPath := writeFile(t, "labour.txt",
		"Section 1. Every worker shall be paid wages in legal tender at regular intervals.\n"+
			"Section 2. No employer shall make deductions from wages without the consent of the worker.")
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{
		ingestion.InferSource(constPath),
		ingestion.InferSource(labourPath),
	}})

	if _, err := e.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.Remove(labourPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	report, err := e.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(report.Failed()) != 1 {
		t.Fatalf("want the labour act reported missing, got %+v", report.Failed())
	}
	if n, _ := e.Chunks(ctx); n != 9 {
		t.Errorf("a temporarily missing source should keep its chunks, want 9, got %d", n)
	}
}

func Test_Engine_CollidingSourceNamesKeepEverySection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	code := ingestion.InferSource(writeFile(t, "criminal_code.txt",
		"1. Any person who steals anything capable of being stolen is guilty of theft.\n"+
			"2. Any person who unlawfully kills another is guilty of murder or manslaughter.\n"))
	amendment := ingestion.InferSource(writeFile(t, "criminal_code_amendment.txt",
		"1. Section 383 of the Criminal Code is amended to include digital property.\n"))
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{code, amendment}})

	report, err := e.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n, _ := e.Chunks(ctx)
	if n != 3 || report.Total() != 3 {
		t.Errorf("want 3 chunks stored and reported, got store=%d report=%d ids=%v", n, report.Total(), report.IDs)
	}
}

func Test_Engine_LazyIsReadyBeforeLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))

	eager, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src}})
	if err := eager.Ping(ctx); err == nil {
		t.Error("an engine loaded at startup is not ready before Load")
	}

	lazy, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src}, Lazy: true})
	if err := lazy.Ping(ctx); err != nil {
		t.Errorf("lazy engine should be ready before its first query: %v", err)
	}
	if lazy.State() != StateUninitialized {
		t.Errorf("Ping must not trigger a load, state = %s", lazy.State())
	}
	_ = lazy.Close()
	if err := lazy.Ping(ctx); err == nil {
		t.Error("closed engine should not be ready")
	}
}

func Test_Engine_CloseReleasesStore(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t, Config{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !store.closed.Load() {
		t.Error("store should be closed")
	}
	if err := e.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := e.Load(context.Background()); err == nil {
		t.Error("load after close should fail")
	}
}

func Test_Engine_Metrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	src := ingestion.InferSource(writeFile(t, "constitution.txt", constitution))
	missing := ingestion.Source{Path: filepath.Join(t.TempDir(), "absent.txt"), Name: "absent"}
	e, _ := newTestEngine(t, Config{Sources: []ingestion.Source{src, missing}, Metrics: NewMetrics(reg)})

	if _, err := e.QueryLaw(context.Background(), "supreme", 15, 3); err != nil {
		t.Fatalf("query: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
		if mf.GetName() == "civic_index_chunks" && mf.GetMetric()[0].GetGauge().GetValue() != 7 {
			t.Errorf("want 7 indexed chunks, got %v", mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	for _, name := range []string{
		"civic_retrieval_duration_seconds",
		"civic_retrieval_queries_total",
		"civic_retrieval_passages_returned",
		"civic_index_chunks",
		"civic_index_sources_skipped_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered or not observed", name)
		}
	}
}

func Test_New_RejectsMissingDependencies(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	if _, err := New(Config{Embedder: &hashEmbedder{}, Store: store}); err == nil {
		t.Error("expected error without scorer")
	}
	if _, err := New(Config{Store: store, Scorer: reranker.NewOverlapScorer()}); err == nil {
		t.Error("expected error without embedder")
	}
	if _, err := New(Config{Embedder: &hashEmbedder{}, Scorer: reranker.NewOverlapScorer()}); err == nil {
		t.Error("expected error without store")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateLoading:       "loading",
		StateLoaded:        "loaded",
	} {
		if s.String() != want {
			t.Errorf("%d: want %s, got %s", s, want, s.String())
		}
	}
}
