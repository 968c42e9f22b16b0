package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/printer"
	"github.com/dyluth/nlbayes/internal/report"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the current phase of a task",
	Long: `Show the current phase and latest progress snapshot of a task.

Tasks no worker has reported on yet are shown as PENDING.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table or json)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := report.ParseOutputFormat(statusOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, json"})
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.dispatcher.Status(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	if format == report.OutputFormatJSON {
		return report.FormatJSON(cmd.OutOrStdout(), status)
	}

	report.FormatStatus(cmd.OutOrStdout(), status)
	if status.Result != nil && status.Result.PosteriorHash != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nResult: nlbayes result %s\n", status.Result.PosteriorHash)
	}
	return nil
}
