// Package assistant answers a citizen's legal question: it retrieves the most
// relevant law sections, asks the answer model to explain them in the
// requested language, logs the exchange and queues it for grading.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/civic-go/internal/budget"
	"github.com/54b3r/civic-go/internal/judge"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/store"
	"github.com/54b3r/civic-go/internal/translate"
)

// NoContext replaces the legal context when retrieval finds nothing or fails.
const NoContext = "No specific legal section found."

// echoMarker is the assistant header some Llama 3 deployments echo back with
// the prompt.
const echoMarker = "assistant<|end_header_id|>"

// ErrEmptyMessage is returned for a blank question.
var ErrEmptyMessage = errors.New("assistant: message must not be empty")

// Retriever returns the law passages most relevant to a question.
// *engine.Engine implements it.
type Retriever interface {
	QueryLaw(ctx context.Context, question string, initialK, finalK int) ([]string, error)
}

// History persists answered questions. *store.SQLiteStore implements it.
type History interface {
	Log(ctx context.Context, in *store.Interaction) (int64, error)
}

// GradeQueue accepts interactions for background grading. *judge.Queue
// implements it.
type GradeQueue interface {
	Submit(job judge.Job) bool
}

// Config holds the Assistant's dependencies. Retriever and Model are
// required; the rest are optional.
type Config struct {
	Retriever Retriever
	Model     model.BaseChatModel
	// Translator converts non-English questions to English before
	// retrieval. Nil disables translation.
	Translator translate.Translator
	History    History
	Grader     GradeQueue
	// InitialK and FinalK are passed to QueryLaw; zero uses its defaults.
	InitialK int
	FinalK   int
	// MaxContextTokens caps the prompt size. Defaults to
	// budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Assistant is safe for concurrent use.
type Assistant struct {
	cfg Config
}

// Request is one question.
type Request struct {
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
}

// Reply is the answer to a Request.
type Reply struct {
	Response string   `json:"response"`
	Language Language `json:"language"`
	Starter  string   `json:"starter_used"`
	// Passages are the law sections the answer was grounded on, most
	// relevant first. Empty when none were found.
	Passages []string `json:"passages"`
	// InteractionID is the history row id, or 0 when history is disabled or
	// logging failed.
	InteractionID int64 `json:"interaction_id,omitempty"`
}

// New validates cfg and returns an Assistant.
func New(cfg Config) (*Assistant, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("assistant: retriever must not be nil")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("assistant: chat model must not be nil")
	}
	if cfg.Translator == nil {
		cfg.Translator = translate.Passthrough{}
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Assistant{cfg: cfg}, nil
}

// Ask answers req. Retrieval and translation failures degrade to the
// no-context prompt; only a blank message or a failed model call is returned
// as an error. Logging and grading happen after the answer is produced and
// never fail the request.
func (a *Assistant) Ask(ctx context.Context, req Request) (*Reply, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, ErrEmptyMessage
	}
	lang := ParseLanguage(req.Language)
	p := personas[lang]
	log := logging.FromContext(ctx).With(slog.String("language", string(lang)))

	passages := a.retrieve(ctx, log, question, lang)

	fixed := []*schema.Message{
		schema.SystemMessage(p.instruction + "\n\n[Legal Context]\n" + NoContext),
		schema.UserMessage(question),
		schema.AssistantMessage(p.starter, nil),
	}
	if kept := budget.TrimPassages(fixed, passages, a.cfg.MaxContextTokens); len(kept) < len(passages) {
		log.Warn("assistant: context trimmed to fit budget",
			slog.Int("retrieved", len(passages)),
			slog.Int("kept", len(kept)),
		)
		passages = kept
	}

	legalContext := NoContext
	if len(passages) > 0 {
		legalContext = strings.Join(passages, "\n\n")
	}
	msgs := []*schema.Message{
		schema.SystemMessage(p.instruction + "\n\n[Legal Context]\n" + legalContext),
		schema.UserMessage(question),
		schema.AssistantMessage(p.starter, nil),
	}

	out, err := a.cfg.Model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("assistant: generate: %w", err)
	}
	answer := Clean(out.Content, p.starter)

	reply := &Reply{
		Response: answer,
		Language: lang,
		Starter:  p.starter,
		Passages: passages,
	}
	if reply.Passages == nil {
		reply.Passages = []string{}
	}
	reply.InteractionID = a.record(ctx, log, question, lang, legalContext, answer)
	return reply, nil
}

// retrieve returns the passages for question, translating it to English
// first when it was asked in another language.
func (a *Assistant) retrieve(ctx context.Context, log *slog.Logger, question string, lang Language) []string {
	query := question
	if lang != English {
		translated, err := a.cfg.Translator.Translate(ctx, question, string(lang), string(English))
		if err != nil {
			log.Warn("assistant: translation failed, retrieving with the original question",
				slog.String("error", err.Error()))
		} else {
			query = translated
		}
	}

	passages, err := a.cfg.Retriever.QueryLaw(ctx, query, a.cfg.InitialK, a.cfg.FinalK)
	if err != nil {
		log.Warn("assistant: retrieval failed, answering without context",
			slog.String("error", err.Error()))
		return nil
	}
	return passages
}

// record logs the interaction and queues it for grading. It returns the row
// id, or 0 when history is disabled or the insert failed.
func (a *Assistant) record(ctx context.Context, log *slog.Logger, question string, lang Language, legalContext, answer string) int64 {
	if a.cfg.History == nil {
		return 0
	}
	id, err := a.cfg.History.Log(context.WithoutCancel(ctx), &store.Interaction{
		UserQuery:  question,
		TargetLang: string(lang),
		RAGContext: legalContext,
		ModelReply: answer,
	})
	if err != nil {
		log.Warn("assistant: failed to log interaction", slog.String("error", err.Error()))
		return 0
	}
	if a.cfg.Grader != nil {
		a.cfg.Grader.Submit(judge.Job{ID: id, Sample: judge.Sample{
			Query:    question,
			Context:  legalContext,
			Reply:    answer,
			Language: string(lang),
		}})
	}
	return id
}

// Clean turns a raw model reply into the user-facing answer.
//
//   - If the reply repeats the starter, the answer is the starter followed by
//     whatever came after its last occurrence.
//   - Otherwise, if the reply echoes the prompt up to the assistant header,
//     the answer is the text after the last header.
//   - Otherwise the reply is a continuation of the prefilled starter and is
//     appended to it.
func Clean(raw, starter string) string {
	if starter != "" {
		if i := strings.LastIndex(raw, starter); i >= 0 {
			return starter + raw[i+len(starter):]
		}
	}
	if i := strings.LastIndex(raw, echoMarker); i >= 0 {
		return strings.TrimSpace(raw[i+len(echoMarker):])
	}
	rest := strings.TrimSpace(raw)
	if starter == "" || rest == "" {
		return starter + rest
	}
	if first := []rune(rest)[0]; unicode.IsLetter(first) || unicode.IsDigit(first) {
		return starter + " " + rest
	}
	return starter + rest
}
