package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/bootstrap"
	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/internal/dispatcher"
	"github.com/dyluth/nlbayes/internal/printer"
)

var (
	version = "dev"

	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nlbayes",
	Short: "nlbayes - asynchronous Bayesian regulator inference",
	Long: `nlbayes submits regulator-inference jobs to a pool of workers and tracks
them through burn-in and sampling until a posterior is available.

Inputs and results are stored once, addressed by the SHA-256 of their content.
Job progress is polled; nothing blocks while a job runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLog(debug)
	},
	// If no subcommand is specified, show help
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Errors are printed by the printer package.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to nlbayes.yml (default $NLBAYES_CONFIG or ./nlbayes.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "dbg", os.Getenv("NLBAYES_DEBUG") != "", "enable debug logging")
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.LevelBraces, log.CallerFunc)
		return
	}
	log.Setup(log.Msec, log.LevelBraces, log.Err(os.Stderr), log.Out(os.Stderr))
}

// loadConfig resolves the configuration or prints why it could not.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Create a starter configuration:\n  nlbayes init", "Point at another file:\n  nlbayes --config path/to/nlbayes.yml ..."},
		)
	}
	return cfg, nil
}

// client bundles what the client-side commands need.
type client struct {
	cfg        *config.Config
	services   *bootstrap.Services
	dispatcher *dispatcher.Dispatcher
}

func (c *client) Close() {
	if err := c.services.Close(); err != nil {
		log.Printf("[WARN] failed to close stores: %v", err)
	}
}

// openClient loads the configuration and connects to the stores.
func openClient(ctx context.Context) (*client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	svc, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"cannot reach the job store",
			err.Error(),
			map[string]string{"Redis": cfg.Redis.URL, "Instance": cfg.Instance},
			[]string{"Check that Redis is running and redis.url (or REDIS_URL) is correct"},
		)
	}

	return &client{
		cfg:        cfg,
		services:   svc,
		dispatcher: dispatcher.New(svc.Blobs, svc.Jobs, svc.Redis, svc.Redis, nil),
	}, nil
}
