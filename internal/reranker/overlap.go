package reranker

import (
	"context"
	"strings"
	"unicode"
)

// stopwords are ignored when comparing questions with passages.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "has": true, "have": true, "how": true, "i": true, "if": true,
	"in": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "say": true, "says": true, "shall": true, "that": true,
	"the": true, "their": true, "there": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "will": true, "with": true, "you": true,
}

// OverlapScorer is a deterministic lexical rag.Scorer. A passage scores the
// fraction of distinct question terms it contains, plus a small bonus for
// term density, so it needs no model server. It is the default when no
// cross-encoder endpoint is configured.
type OverlapScorer struct{}

// NewOverlapScorer returns an OverlapScorer.
func NewOverlapScorer() *OverlapScorer { return &OverlapScorer{} }

// Score implements rag.Scorer.
func (OverlapScorer) Score(_ context.Context, query string, passages []string) ([]float32, error) {
	want := distinct(terms(query))
	scores := make([]float32, len(passages))
	if len(want) == 0 {
		return scores, nil
	}

	for i, p := range passages {
		words := terms(p)
		if len(words) == 0 {
			continue
		}
		counts := make(map[string]int, len(words))
		for _, w := range words {
			counts[w]++
		}

		matched, hits := 0, 0
		for _, t := range want {
			if n := counts[t]; n > 0 {
				matched++
				hits += n
			}
		}
		coverage := float32(matched) / float32(len(want))
		density := float32(hits) / float32(len(words))
		scores[i] = coverage + 0.1*density
	}
	return scores, nil
}

// terms lowercases s and returns its words with stopwords removed. A trailing
// plural "s" is dropped so "rights" matches "right".
func terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = f[:len(f)-1]
		}
		out = append(out, f)
	}
	return out
}

// distinct returns words with duplicates removed, keeping first occurrence.
func distinct(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
