// Package translate converts questions asked in Nigerian languages into
// English before retrieval, so they match the English law text in the index.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Translator converts text between two languages named in lowercase
// ("english", "pidgin", "yoruba", "hausa", "igbo").
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Passthrough returns its input unchanged. It is used when translation is
// disabled.
type Passthrough struct{}

// Translate returns text.
func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// ChatTranslator translates with a chat model.
type ChatTranslator struct {
	model model.BaseChatModel
}

// NewChatTranslator wraps m as a Translator.
func NewChatTranslator(m model.BaseChatModel) (*ChatTranslator, error) {
	if m == nil {
		return nil, fmt.Errorf("translate: chat model must not be nil")
	}
	return &ChatTranslator{model: m}, nil
}

const systemPrompt = `You translate questions about Nigerian law.
Translate the user's message from %s into plain %s.
Keep legal terms, section numbers and names unchanged.
Reply with the translation only, no notes or quotes.`

// Translate returns text in language to. Identical languages and blank
// text are returned unchanged without calling the model.
func (t *ChatTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	from, to = normalize(from), normalize(to)
	if from == to || strings.TrimSpace(text) == "" {
		return text, nil
	}

	msg, err := t.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, displayName(from), displayName(to))),
		schema.UserMessage(text),
	})
	if err != nil {
		return "", fmt.Errorf("translate: %s to %s: %w", from, to, err)
	}
	out := strings.Trim(strings.TrimSpace(msg.Content), `"`)
	if out == "" {
		return "", fmt.Errorf("translate: %s to %s: empty reply", from, to)
	}
	return out, nil
}

func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "english"
	}
	return lang
}

func displayName(lang string) string {
	switch lang {
	case "pidgin":
		return "Nigerian Pidgin English"
	case "english":
		return "English"
	default:
		return strings.ToUpper(lang[:1]) + lang[1:]
	}
}
