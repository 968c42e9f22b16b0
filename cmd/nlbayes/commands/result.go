package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/printer"
	"github.com/dyluth/nlbayes/internal/report"
)

var (
	resultOutput string
	resultTop    int
)

var resultCmd = &cobra.Command{
	Use:   "result <posterior-hash>",
	Short: "Show the posterior of a completed job",
	Long: `Fetch a posterior by its content hash and print the regulators ranked by
posterior activation probability.

Examples:
  nlbayes result 3f2a...c9 --top 20
  nlbayes result 3f2a...c9 -o json > posterior.json`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "table", "output format (table or json)")
	resultCmd.Flags().IntVar(&resultTop, "top", 25, "number of regulators to show in table output (0 for all)")
	rootCmd.AddCommand(resultCmd)
}

func runResult(cmd *cobra.Command, args []string) error {
	format, err := report.ParseOutputFormat(resultOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, json"})
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	err = report.GetResult(ctx, c.dispatcher, args[0], format, resultTop, cmd.OutOrStdout())
	if report.IsNotFound(err) {
		return printer.Error(
			"result not found",
			err.Error(),
			[]string{"Results are only available once the task is COMPLETE:\n  nlbayes status <task-id>"},
		)
	}
	return err
}
