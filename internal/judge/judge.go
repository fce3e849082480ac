// Package judge grades answered questions with a second model acting as an
// impartial legal evaluator. Grading runs after the reply has been returned,
// on a bounded background queue, and never affects the user's response.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Sample is one answered question to grade.
type Sample struct {
	Query    string
	Context  string
	Reply    string
	Language string
}

// Grade is the judge's verdict.
type Grade struct {
	// Score is 0 to 100.
	Score  int
	Reason string
	// Parsed is false when the model reply held no readable verdict; Score is
	// then 0 and Reason quotes the start of the raw reply.
	Parsed bool
}

// Judge grades samples with a chat model.
type Judge struct {
	model model.BaseChatModel
}

// New wraps m as a Judge.
func New(m model.BaseChatModel) (*Judge, error) {
	if m == nil {
		return nil, fmt.Errorf("judge: chat model must not be nil")
	}
	return &Judge{model: m}, nil
}

const prompt = `Act as an impartial legal evaluator.
Compare the AI's Response against the Reference Legal Context.

Query: %q
Target language: %s
Reference Context: %q
AI Response: %q

Evaluation Criteria:
1. Accuracy (0-100): Does the AI response strictly follow the Reference Context?
2. Hallucination: Did the AI invent facts not in the Reference?
3. Clarity: Is the answer simple?
4. Language: Is the AI response in one of the target languages (English, Yoruba, Hausa, Igbo or Pidgin)?
5. The reply must stay in a single language; the only acceptable code-switching is English/Pidgin.

Output Format:
Return a valid JSON object ONLY. Do not use Markdown.
{"score": 85, "reason": "The explanation matches the context perfectly."}`

// Grade asks the model for a verdict on s. A model error is returned; an
// unreadable verdict is not an error and yields a zero score.
func (j *Judge) Grade(ctx context.Context, s Sample) (Grade, error) {
	lang := s.Language
	if lang == "" {
		lang = "english"
	}
	msg, err := j.model.Generate(ctx, []*schema.Message{
		schema.UserMessage(fmt.Sprintf(prompt, s.Query, lang, s.Context, s.Reply)),
	})
	if err != nil {
		return Grade{}, fmt.Errorf("judge: generate: %w", err)
	}
	return Parse(msg.Content), nil
}

type verdict struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// Parse extracts {score, reason} from a model reply. Markdown fences are
// removed and the outermost brace pair is decoded. Scores are rounded and
// clamped to 0..100.
func Parse(raw string) Grade {
	text := strings.ReplaceAll(raw, "```json", "")
	text = strings.TrimSpace(strings.ReplaceAll(text, "```", ""))
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Grade{Reason: fmt.Sprintf("JSON Parse Failed. Raw: %s...", prefix(text, 30))}
	}

	g := Grade{Reason: v.Reason, Parsed: true}
	if g.Reason == "" {
		g.Reason = "No reason provided"
	}
	if v.Score != nil {
		g.Score = int(math.Round(math.Max(0, math.Min(100, *v.Score))))
	}
	return g
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
