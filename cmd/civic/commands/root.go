// Package commands defines the Cobra CLI commands of the civic binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/civic-go/internal/audit"
	"github.com/54b3r/civic-go/internal/config"
	"github.com/54b3r/civic-go/internal/logging"
)

// NewRootCmd constructs the root command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:   "civic",
		Short: "civic: answers questions about Nigerian law, grounded on the statutes",
		Long: `civic is a retrieval-augmented legal assistant for Nigerian law.

Questions are matched against sections of the loaded statutes (the 1999
Constitution by default), the best passages are reranked with a
cross-encoder and a chat model answers in English, Pidgin, Yoruba, Hausa
or Igbo using only that context.

Settings come from the environment, a .env file and an optional YAML file
(~/.civic/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()
			if err := config.LoadDotEnv(envFile, boot); err != nil {
				return err
			}
			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}

			// Rebuilt so LOG_LEVEL and LOG_FORMAT from the files apply.
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.civic/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the config file")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewVersionCmd(),
	)

	return root
}
