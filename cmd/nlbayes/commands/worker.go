package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an inference worker in the foreground",
	Long: `Consume tasks from the queue and run them until interrupted.

Equivalent to the standalone nlbayes-worker binary. Concurrency, seeding and
sampler limits come from the worker and sampler sections of the configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return worker.Serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
