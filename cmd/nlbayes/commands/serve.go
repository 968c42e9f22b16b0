package commands

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dyluth/nlbayes/internal/api"
	"github.com/dyluth/nlbayes/internal/dispatcher"
	"github.com/dyluth/nlbayes/internal/metrics"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve job submission, status polling and result retrieval over HTTP.

Routes:
  POST /api/v1/jobs            submit a network, evidence and options
  GET  /api/v1/tasks/{id}      poll a task
  GET  /api/v1/jobs/{id}       read a job record
  GET  /api/v1/results/{hash}  fetch a posterior
  GET  /healthz, /metrics, /ping`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default api.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	d := dispatcher.New(c.services.Blobs, c.services.Jobs, c.services.Redis, c.services.Redis, m)

	addr := c.cfg.API.Listen
	if serveListen != "" {
		addr = serveListen
	}
	return api.New(d, c.services, reg, version).Run(ctx, addr)
}
