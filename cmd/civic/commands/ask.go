package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/civic-go/internal/assistant"
	"github.com/54b3r/civic-go/internal/logging"
	"github.com/54b3r/civic-go/internal/provider"
)

// NewAskCmd constructs the `civic ask` command, which answers one question
// from the terminal. Nothing is written to the interaction log.
func NewAskCmd() *cobra.Command {
	var lang string
	var showContext bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the legal assistant a question",
		Long: `Ask one question about Nigerian law and print the answer.

Examples:
  civic ask "Can the police detain me without charge?"
  civic ask --lang pidgin "Wetin be my right if dem arrest me?"
  civic ask --show-context "What is the supreme law of Nigeria?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			r, err := buildEngine(ctx, log, nil, false)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = r.engine.Close() }()

			asst, err := assistant.New(assistant.Config{
				Retriever:  r.engine,
				Model:      chatModel,
				Translator: buildTranslator(chatModel, log),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			reply, err := asst.Ask(ctx, assistant.Request{
				Message:  strings.Join(args, " "),
				Language: lang,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Response)
			if showContext {
				fmt.Fprintln(out)
				if len(reply.Passages) == 0 {
					fmt.Fprintln(out, assistant.NoContext)
				}
				for i, p := range reply.Passages {
					fmt.Fprintf(out, "--- passage %d ---\n%s\n", i+1, p)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "english", "Answer language: english, pidgin, yoruba, hausa, igbo")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the law passages the answer was grounded on")

	return cmd
}
