package worker

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dyluth/nlbayes/internal/bootstrap"
	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/internal/metrics"
	"github.com/dyluth/nlbayes/internal/ornor"
	"github.com/dyluth/nlbayes/internal/runner"
	"github.com/dyluth/nlbayes/internal/sampler"
)

// Serve runs a worker process until ctx is cancelled: it opens the stores,
// starts the health server and executes tasks with the reference sampler.
func Serve(ctx context.Context, cfg *config.Config) error {
	return ServeWith(ctx, cfg, ornor.New)
}

// ServeWith is Serve with a custom sampler factory.
func ServeWith(ctx context.Context, cfg *config.Config, factory sampler.Factory) error {
	svc, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Printf("[DEBUG] closing stores")
		if err := svc.Close(); err != nil {
			log.Printf("[ERROR] error closing stores: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	r := &runner.Runner{
		Blobs:    svc.Blobs,
		Jobs:     svc.Jobs,
		Tasks:    svc.Redis,
		Repeater: bootstrap.NewReporterRepeater(cfg.Reporter),
		Metrics:  m,
		Params:   Params(cfg.Sampler),
	}
	engine := New(OptionsFromConfig(cfg), svc.Redis, r, factory)

	healthServer := NewHealthServer(svc, reg, cfg.Worker.HealthAddr)
	healthServer.Start()
	log.Printf("[INFO] health server started on %s", cfg.Worker.HealthAddr)

	engineErr := engine.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] health server shutdown error: %v", err)
	}

	if engineErr != nil {
		return fmt.Errorf("worker engine failed: %w", engineErr)
	}
	return nil
}

// Params converts the sampler section of the configuration into a runner schedule.
func Params(s config.SamplerConfig) runner.Params {
	return runner.Params{
		Chains:            s.Chains,
		BurninBatch:       s.BurninBatch,
		BurninThreshold:   s.BurninThreshold,
		SampleBatch:       s.SampleBatch,
		SamplingThreshold: s.SamplingThreshold,
		MaxSamples:        s.MaxSamples,
	}
}
