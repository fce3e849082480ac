package judge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
)

type stubModel struct {
	reply string
	err   error
	last  string
}

func (s *stubModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.last = in[len(in)-1].Content
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *stubModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantScore  int
		wantReason string
		wantParsed bool
	}{
		{
			name:       "plain json",
			raw:        `{"score": 85, "reason": "Matches the context."}`,
			wantScore:  85,
			wantReason: "Matches the context.",
			wantParsed: true,
		},
		{
			name:       "fenced json",
			raw:        "```json\n{\"score\": 40, \"reason\": \"Invented a penalty.\"}\n```",
			wantScore:  40,
			wantReason: "Invented a penalty.",
			wantParsed: true,
		},
		{
			name:       "prose around object",
			raw:        `Here is my verdict: {"score": 70, "reason": "Mostly right."} Thanks.`,
			wantScore:  70,
			wantReason: "Mostly right.",
			wantParsed: true,
		},
		{
			name:       "float score rounded",
			raw:        `{"score": 72.6, "reason": "ok"}`,
			wantScore:  73,
			wantReason: "ok",
			wantParsed: true,
		},
		{
			name:       "score clamped",
			raw:        `{"score": 140, "reason": "ok"}`,
			wantScore:  100,
			wantReason: "ok",
			wantParsed: true,
		},
		{
			name:       "missing fields",
			raw:        `{}`,
			wantScore:  0,
			wantReason: "No reason provided",
			wantParsed: true,
		},
		{
			name:       "not json",
			raw:        "The answer is accurate and clear, I would give it a high mark.",
			wantScore:  0,
			wantReason: "JSON Parse Failed. Raw: The answer is accurate and cle...",
		},
		{
			name:       "broken object",
			raw:        `{"score": 85, "reason": }`,
			wantScore:  0,
			wantReason: `JSON Parse Failed. Raw: {"score": 85, "reason": }...`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tc.raw)
			if got.Score != tc.wantScore || got.Reason != tc.wantReason || got.Parsed != tc.wantParsed {
				t.Errorf("Parse() = %+v, want score=%d reason=%q parsed=%v", got, tc.wantScore, tc.wantReason, tc.wantParsed)
			}
		})
	}
}

func Test_Judge_Grade(t *testing.T) {
	t.Parallel()

	m := &stubModel{reply: `{"score": 90, "reason": "Faithful to Section 1."}`}
	j, err := New(m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g, err := j.Grade(context.Background(), Sample{
		Query:    "What is the supreme law?",
		Context:  "[Constitution] Section 1. This Constitution is supreme.",
		Reply:    "Basically, the law states that the Constitution is supreme.",
		Language: "english",
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if g.Score != 90 || !g.Parsed {
		t.Errorf("grade = %+v", g)
	}
	for _, want := range []string{"impartial legal evaluator", "What is the supreme law?", "Section 1.", "Basically"} {
		if !strings.Contains(m.last, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	m.err = errors.New("quota exceeded")
	if _, err := j.Grade(context.Background(), Sample{}); err == nil {
		t.Error("model error should be returned")
	}

	if _, err := New(nil); err == nil {
		t.Error("nil model should be rejected")
	}
}

// fakeGrader blocks each call until release is closed, signalling started first.
type fakeGrader struct {
	started chan int64
	release chan struct{}
	err     error
}

func (f *fakeGrader) Grade(ctx context.Context, s Sample) (Grade, error) {
	if f.started != nil {
		f.started <- 0
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return Grade{}, f.err
	}
	return Parse(s.Reply), nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	scores map[int64]int
}

func (r *fakeRecorder) Grade(_ context.Context, id int64, score int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scores == nil {
		r.scores = map[int64]int{}
	}
	r.scores[id] = score
	return nil
}

func (r *fakeRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scores)
}

// counterValue sums the counter samples of name whose outcome label equals
// outcome, or all samples when outcome is empty.
func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := outcome == ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					match = true
				}
			}
			if match {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func Test_Queue_GradesAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	q := NewQueue(&fakeGrader{}, rec, QueueConfig{Workers: 3, Registerer: reg, Logger: quietLogger()})

	for i := range 10 {
		if !q.Submit(Job{ID: int64(i + 1), Sample: Sample{Reply: `{"score": 60, "reason": "ok"}`}}) {
			t.Fatalf("job %d rejected", i+1)
		}
	}
	q.Close()

	if rec.len() != 10 {
		t.Fatalf("recorded %d grades, want 10", rec.len())
	}
	if rec.scores[7] != 60 {
		t.Errorf("score for 7 = %d, want 60", rec.scores[7])
	}
	if got := counterValue(t, reg, "civic_judge_grades_total", "graded"); got != 10 {
		t.Errorf("graded counter = %v, want 10", got)
	}
}

func Test_Queue_SubmitNeverBlocks(t *testing.T) {
	t.Parallel()

	g := &fakeGrader{started: make(chan int64, 4), release: make(chan struct{})}
	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	q := NewQueue(g, rec, QueueConfig{Workers: 1, Capacity: 1, Registerer: reg, Logger: quietLogger()})

	if !q.Submit(Job{ID: 1}) {
		t.Fatal("first job rejected")
	}
	<-g.started // worker is busy with job 1
	if !q.Submit(Job{ID: 2}) {
		t.Fatal("second job should fit in the buffer")
	}
	if q.Submit(Job{ID: 3}) {
		t.Fatal("third job should be dropped")
	}
	if got := counterValue(t, reg, "civic_judge_queue_dropped_total", ""); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	close(g.release)
	q.Close()
	if rec.len() != 2 {
		t.Errorf("recorded %d grades, want 2", rec.len())
	}
	if q.Submit(Job{ID: 4}) {
		t.Error("submit after close should be rejected")
	}
	q.Close() // idempotent
}

func Test_Queue_GraderErrorNotRecorded(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	q := NewQueue(&fakeGrader{err: errors.New("timeout")}, rec, QueueConfig{Registerer: reg, Logger: quietLogger()})
	q.Submit(Job{ID: 1})
	q.Close()

	if rec.len() != 0 {
		t.Errorf("failed grading should not be recorded")
	}
	if got := counterValue(t, reg, "civic_judge_grades_total", "error"); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func Test_Queue_UnparsedVerdictRecordedAsZero(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	q := NewQueue(&fakeGrader{}, rec, QueueConfig{Logger: quietLogger()})
	q.Submit(Job{ID: 5, Sample: Sample{Reply: "no json here"}})
	q.Close()

	if score, ok := rec.scores[5]; !ok || score != 0 {
		t.Errorf("want zero score recorded, got %d (recorded=%v)", score, ok)
	}
}
