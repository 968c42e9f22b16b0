package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/printer"
	"github.com/dyluth/nlbayes/internal/report"
	"github.com/dyluth/nlbayes/internal/resolver"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

var jobOutput string

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show the stored record of a job",
	Long: `Show the stored record of a job: its input hashes, options, latest
progress snapshot and, once complete, the posterior hash.

The job ID may be shortened to any unique prefix of at least 6 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	jobCmd.Flags().StringVarP(&jobOutput, "output", "o", "table", "output format (table or json)")
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	format, err := report.ParseOutputFormat(jobOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, json"})
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	jobID := args[0]
	if scanner, ok := c.services.Jobs.(jobstore.JobScanner); ok {
		jobID, err = resolver.ResolveJobID(ctx, scanner, args[0])
		var amb *resolver.AmbiguousError
		switch {
		case resolver.IsNotFoundError(err):
			return printer.Error("job not found", err.Error(), nil)
		case errors.As(err, &amb):
			return printer.Error("ambiguous job ID", amb.Describe(), nil)
		case err != nil:
			return printer.Error("invalid job ID", err.Error(), nil)
		}
	}

	job, err := c.dispatcher.Job(ctx, jobID)
	if jobstore.IsNotFound(err) {
		return printer.Error("job not found", "No job with ID "+jobID+" exists in instance "+c.cfg.Instance+".", nil)
	}
	if err != nil {
		return err
	}

	if format == report.OutputFormatJSON {
		return report.FormatJSON(cmd.OutOrStdout(), job)
	}
	report.FormatJob(cmd.OutOrStdout(), job)
	return nil
}
