package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/civic-go/internal/assistant"
	"github.com/54b3r/civic-go/internal/engine"
	"github.com/54b3r/civic-go/internal/judge"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/provider"
	"github.com/54b3r/civic-go/internal/server"
	"github.com/54b3r/civic-go/internal/store"
	"github.com/54b3r/civic-go/internal/tracing"
)

// NewServeCmd constructs the `civic serve` command.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var lazy bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the civic HTTP API",
		Long: `Start the legal assistant HTTP API.

The statutes listed in CIVIC_SOURCES are loaded into the index at startup
(or on the first question with --lazy). Send SIGHUP to re-read them.

Routes:
  POST /api/chat                 {"message": "...", "language": "yoruba"}
  POST /api/search               {"query": "...", "initial_k": 15, "final_k": 3}
  GET  /api/interactions/count
  GET  /api/health, /api/ready, /metrics

Examples:
  civic serve
  civic serve --port 9090
  MODEL_PROVIDER=gemini CIVIC_SOURCES=constitution.txt,labour.pdf civic serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			flush, traced := tracing.Setup(tracing.ConfigFromEnv())
			defer flush()
			log.Info("langfuse tracing", slog.Bool("enabled", traced))

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.Model()),
			)

			reg := prometheus.DefaultRegisterer
			r, err := buildEngine(ctx, log, reg, lazy)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = r.engine.Close() }()

			if !lazy {
				report, err := r.engine.Load(ctx)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				logReport(log, report)
			}
			go reloadOnHangup(ctx, r.engine)

			history := openHistory(log)
			if history != nil {
				defer func() { _ = history.Close() }()
			}

			acfg := assistant.Config{
				Retriever:  r.engine,
				Model:      chatModel,
				Translator: buildTranslator(chatModel, log),
				InitialK:   getEnvInt("RAG_INITIAL_K", 0),
				FinalK:     getEnvInt("RAG_FINAL_K", 0),
			}
			deps := server.Deps{Search: r.engine}
			if history != nil {
				acfg.History = history
				deps.History = history
				if q := startGrading(ctx, history, reg, log); q != nil {
					defer q.Close()
					acfg.Grader = q
				}
			}

			asst, err := assistant.New(acfg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			deps.Assistant = asst

			srv, err := server.New(deps, &server.Config{
				Host:          host,
				Port:          port,
				ChatTimeout:   getEnvDuration("CIVIC_CHAT_TIMEOUT", 60*time.Second),
				Logger:        log,
				Pingers:       buildPingers(r, history),
				APIKey:        os.Getenv("CIVIC_API_KEY"),
				AllowedOrigin: os.Getenv("CIVIC_ALLOWED_ORIGIN"),
				TrustProxy:    getEnvBool("CIVIC_TRUST_PROXY", false),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("CIVIC_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("CIVIC_PORT", 8080), "TCP port to listen on")
	cmd.Flags().BoolVar(&lazy, "lazy", false, "Load the index on the first question instead of at startup")

	return cmd
}

// startGrading builds the judge model and its worker pool. It returns nil
// when the judge model cannot be built; answers are then logged ungraded.
func startGrading(ctx context.Context, history *store.SQLiteStore, reg prometheus.Registerer, log *slog.Logger) *judge.Queue {
	jcfg := provider.JudgeConfigFromEnv()
	m, err := provider.New(ctx, jcfg)
	if err != nil {
		log.Warn("grading disabled: judge model unavailable", slog.Any("error", err))
		return nil
	}
	j, err := judge.New(m)
	if err != nil {
		log.Warn("grading disabled", slog.Any("error", err))
		return nil
	}
	log.Info("grading enabled",
		slog.String("provider", string(jcfg.Backend)),
		slog.String("model", jcfg.Model()),
	)
	q := judge.NewQueue(j, history, judge.QueueConfig{
		Registerer: reg,
		Logger:     log,
	})
	requeuePending(ctx, history, q, requeueLimit, log)
	return q
}

// requeueLimit caps the backlog resubmitted at startup. It stays below the
// queue capacity so fresh answers still find room.
const requeueLimit = 32

// requeuePending submits up to limit interactions left ungraded by an earlier
// run (judge error, full queue, shutdown) to q, oldest first. It stops at the
// first job the queue rejects and returns the number accepted.
func requeuePending(ctx context.Context, history *store.SQLiteStore, q *judge.Queue, limit int, log *slog.Logger) int {
	pending, err := history.Pending(ctx, limit)
	if err != nil {
		log.Warn("grading: cannot read ungraded interactions", slog.Any("error", err))
		return 0
	}
	n := 0
	for _, in := range pending {
		if !q.Submit(judge.Job{ID: in.ID, Sample: judge.Sample{
			Query:    in.UserQuery,
			Context:  in.RAGContext,
			Reply:    in.ModelReply,
			Language: in.TargetLang,
		}}) {
			break
		}
		n++
	}
	if n > 0 {
		log.Info("grading: resubmitted ungraded interactions", slog.Int("count", n))
	}
	return n
}

// reloadOnHangup re-reads the sources on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, eng *engine.Engine) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	log := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info("reloading sources")
			report, err := eng.Reload(ctx)
			if err != nil {
				log.Error("reload failed", slog.Any("error", err))
				continue
			}
			logReport(log, report)
		}
	}
}
