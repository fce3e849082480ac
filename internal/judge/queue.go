package judge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Grader produces a verdict for one sample. *Judge implements it.
type Grader interface {
	Grade(ctx context.Context, s Sample) (Grade, error)
}

// Recorder persists a verdict for a logged interaction.
type Recorder interface {
	Grade(ctx context.Context, id int64, score int, reason string) error
}

// Job is one interaction waiting to be graded.
type Job struct {
	// ID is the interaction log row to update.
	ID     int64
	Sample Sample
}

// QueueConfig tunes a Queue. Zero values use the defaults.
type QueueConfig struct {
	// Workers is the number of concurrent graders. Defaults to 2.
	Workers int
	// Capacity is the number of jobs that may wait. Defaults to 64.
	Capacity int
	// Timeout bounds one grading call. Defaults to 60s.
	Timeout time.Duration
	// Registerer receives the queue metrics; nil disables them.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Queue grades interactions in the background with a fixed pool of workers.
// Submit never blocks the caller: when the buffer is full the job is dropped
// and counted.
type Queue struct {
	grader   Grader
	recorder Recorder
	timeout  time.Duration
	log      *slog.Logger
	jobs     chan Job
	wg       sync.WaitGroup

	// mu guards closed and orders Submit against Close.
	mu     sync.RWMutex
	closed bool

	graded  *prometheus.CounterVec
	dropped prometheus.Counter
}

// NewQueue starts the workers.
func NewQueue(grader Grader, recorder Recorder, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		grader:   grader,
		recorder: recorder,
		timeout:  cfg.Timeout,
		log:      cfg.Logger,
		jobs:     make(chan Job, cfg.Capacity),
	}
	if cfg.Registerer != nil {
		factory := promauto.With(cfg.Registerer)
		q.graded = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "judge",
			Name:      "grades_total",
			Help:      "Grading attempts, partitioned by outcome: graded, unparsed, or error.",
		}, []string{"outcome"})
		q.dropped = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "judge",
			Name:      "queue_dropped_total",
			Help:      "Interactions not graded because the queue was full or closed.",
		})
	}

	for range cfg.Workers {
		q.wg.Go(q.work)
	}
	return q
}

// Submit enqueues job and reports whether it was accepted.
func (q *Queue) Submit(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.closed {
		select {
		case q.jobs <- job:
			return true
		default:
		}
	}
	if q.dropped != nil {
		q.dropped.Inc()
	}
	q.log.Warn("judge: grading job dropped", slog.Int64("interaction_id", job.ID), slog.Bool("closed", q.closed))
	return false
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) work() {
	for job := range q.jobs {
		q.grade(job)
	}
}

func (q *Queue) grade(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	log := q.log.With(slog.Int64("interaction_id", job.ID))
	g, err := q.grader.Grade(ctx, job.Sample)
	if err != nil {
		q.observe("error")
		log.Warn("judge: grading failed", slog.String("error", err.Error()))
		return
	}
	if !g.Parsed {
		q.observe("unparsed")
	} else {
		q.observe("graded")
	}

	if err := q.recorder.Grade(ctx, job.ID, g.Score, g.Reason); err != nil {
		log.Warn("judge: failed to record grade", slog.String("error", err.Error()))
		return
	}
	log.Info("judge: graded", slog.Int("score", g.Score))
}

func (q *Queue) observe(outcome string) {
	if q.graded != nil {
		q.graded.WithLabelValues(outcome).Inc()
	}
}
