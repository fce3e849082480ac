// Package budget provides token budget estimation and context trimming for
// the answer prompt. Because the assistant supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 4k-context models while leaving room for a short answer.
	DefaultMaxContextTokens = 3000

	// separatorTokens is the cost of the blank line joining two passages.
	separatorTokens = 1
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimPassages drops the lowest-ranked passages (the tail of passages) until
// fixed plus the remaining passages fit within maxTokens. fixed holds the
// messages that are always sent: system instruction, question and starter.
//
// The most relevant passage is dropped only when even it alone does not fit;
// callers fall back to the no-context prompt in that case.
func TrimPassages(fixed []*schema.Message, passages []string, maxTokens int) []string {
	used := EstimateMessages(fixed)
	for i, p := range passages {
		cost := Estimate(p)
		if i > 0 {
			cost += separatorTokens
		}
		if used+cost > maxTokens {
			return passages[:i]
		}
		used += cost
	}
	return passages
}
