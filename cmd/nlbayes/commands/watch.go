package commands

import (
	"context"
	"errors"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/printer"
	"github.com/dyluth/nlbayes/internal/report"
	"github.com/dyluth/nlbayes/internal/watch"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow a task until it finishes",
	Long: `Poll a task and print every new progress snapshot until the task is
COMPLETE or FAILED.

If no progress is observed within client.stall_timeout the task is reported
as stalled: it may still be burning in, or its worker may have gone away.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return followTask(ctx, c, args[0])
}

// followTask polls taskID, printing each update, and reports how it ended.
func followTask(ctx context.Context, c *client, taskID string) error {
	opts := watch.Options{
		Interval:     c.cfg.Client.PollInterval,
		StallTimeout: c.cfg.Client.StallTimeout,
		OnUpdate: func(s *jobstore.Status) {
			printer.Printf("%s ", printer.Phase(s.Status))
			report.FormatStatus(os.Stdout, s)
		},
	}

	// events only shorten the wait between polls
	if sub, err := c.services.Redis.SubscribeTaskEvents(ctx); err != nil {
		log.Printf("[DEBUG] task events unavailable, polling only: %v", err)
	} else {
		defer sub.Close()
		opts.Events = sub.Events()
	}

	final, err := watch.PollForCompletion(ctx, c.dispatcher, taskID, opts)
	switch {
	case err == nil:
		printer.Success("Task %s complete\n", taskID)
		if final.Result != nil {
			printer.Info("\nView the posterior with:\n  nlbayes result %s\n", final.Result.PosteriorHash)
		}
		return nil
	case errors.Is(err, watch.ErrTaskFailed):
		return printer.Error("task failed", err.Error(), []string{"Inspect the job record:\n  nlbayes job " + jobID(final)})
	case errors.Is(err, watch.ErrStalled):
		printer.Warning("%v\n", err)
		return printer.Error(
			"task status unknown",
			"The task may still be running, or its worker may have stopped.",
			[]string{"Check again later:\n  nlbayes status " + taskID, "Check the workers' /healthz endpoints"},
		)
	default:
		return err
	}
}

func jobID(s *jobstore.Status) string {
	if s != nil && s.Result != nil && s.Result.Meta != nil && s.Result.Meta.JobID != "" {
		return s.Result.Meta.JobID
	}
	return "<job-id>"
}
