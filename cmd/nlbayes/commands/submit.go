package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/printer"
	"github.com/dyluth/nlbayes/internal/scaffold"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

var (
	submitNetwork  string
	submitEvidence string
	submitOptions  string
	submitWatch    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an inference job",
	Long: `Store the network and evidence, create a job and queue it for a worker.

The network file maps each regulator to its targets and mode of regulation:
  {"TF1": {"geneA": 1, "geneB": -1}}

The evidence file maps targets to their observed differential state:
  {"geneA": 1, "geneB": 0}

Inference options (uniform_t, t_alpha, t_beta, zy, zn, s_leniency) may be
given as a JSON object in --options. Unknown options are rejected.

Examples:
  nlbayes submit --network network.json --evidence evidence.json
  nlbayes submit -n network.json -e evidence.json --options '{"zn": 0.01}' --watch`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitNetwork, "network", "n", "", "network JSON file (required)")
	submitCmd.Flags().StringVarP(&submitEvidence, "evidence", "e", "", "evidence JSON file (required)")
	submitCmd.Flags().StringVar(&submitOptions, "options", "", "inference options as JSON, or @file to read them from a file")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow the task until it finishes")
	_ = submitCmd.MarkFlagRequired("network")
	_ = submitCmd.MarkFlagRequired("evidence")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	network, err := scaffold.ReadNetwork(submitNetwork)
	if err != nil {
		return printer.Error("invalid network file", err.Error(), nil)
	}
	evidence, err := scaffold.ReadEvidence(submitEvidence)
	if err != nil {
		return printer.Error("invalid evidence file", err.Error(), nil)
	}
	opts, err := readOptions(submitOptions)
	if err != nil {
		return printer.Error(
			"invalid inference options",
			err.Error(),
			[]string{"Recognized options: uniform_t, t_alpha, t_beta, zy, zn, s_leniency"},
		)
	}

	ctx := cmd.Context()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	sub, err := c.dispatcher.Submit(ctx, network, evidence, opts)
	if err != nil {
		return printer.Error("submission failed", err.Error(), nil)
	}

	printer.Success("Submitted job %s\n", sub.JobID)
	printer.Info("  task: %s\n", sub.TaskID)

	if !submitWatch {
		printer.Info("\nFollow progress with:\n  nlbayes watch %s\n", sub.TaskID)
		return nil
	}

	printer.Println()
	return followTask(ctx, c, sub.TaskID)
}

// readOptions decodes inline JSON, or a file when the value starts with '@'.
func readOptions(value string) (jobstore.InferenceConfig, error) {
	data := []byte(value)
	if len(value) > 0 && value[0] == '@' {
		var err error
		if data, err = os.ReadFile(value[1:]); err != nil {
			return jobstore.InferenceConfig{}, fmt.Errorf("failed to read options file: %w", err)
		}
	}
	return jobstore.DecodeInferenceConfig(data)
}
