package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/scaffold"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration and example inputs",
	Long: `Write a starter nlbayes.yml plus an example network.json and evidence.json.

Use --force to overwrite files left by a previous init.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite existing files")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(initDir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess(initDir)
	return nil
}
