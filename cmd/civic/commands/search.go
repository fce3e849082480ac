package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/civic-go/internal/logging"
)

// NewSearchCmd constructs the `civic search` command, which prints the
// reranked passages for a question without calling a chat model.
func NewSearchCmd() *cobra.Command {
	var initialK, finalK int

	cmd := &cobra.Command{
		Use:   "search [question]",
		Short: "Show the law passages retrieved for a question",
		Long: `Run retrieval and reranking only and print the passages with their
similarity and rerank scores. Useful for tuning RAG_INITIAL_K, RAG_FINAL_K
and the reranker.

Examples:
  civic search "freedom of expression"
  civic search --initial-k 30 --final-k 5 "minimum wage"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			r, err := buildEngine(ctx, log, nil, false)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = r.engine.Close() }()

			cands, err := r.engine.Search(ctx, strings.Join(args, " "), initialK, finalK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(cands) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no passages found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tSCORE\tSIMILARITY\tID\tTEXT")
			for i, c := range cands {
				fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%s\t%s\n", i+1, c.Score, c.Similarity, c.ID, preview(c.Text, 80))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&initialK, "initial-k", 0, "Broad vector search width (default RAG_INITIAL_K or 15)")
	cmd.Flags().IntVar(&finalK, "final-k", 0, "Passages kept after reranking (default RAG_FINAL_K or 3)")

	return cmd
}

// preview flattens whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
