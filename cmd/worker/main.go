package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains the main logic and returns an exit code.
func run(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to nlbayes.yml (default $NLBAYES_CONFIG or ./nlbayes.yml)")
	dbg := fs.Bool("dbg", os.Getenv("NLBAYES_DEBUG") != "", "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	setupLog(*dbg)

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Printf("[ERROR] configuration error: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- worker.Serve(ctx, cfg)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] received signal: %v", sig)
	case err := <-done:
		if err != nil {
			log.Printf("[ERROR] worker failed: %v", err)
			return 1
		}
		return 0
	}

	log.Printf("[INFO] initiating graceful shutdown...")
	cancel()

	// running tasks stop at their next batch boundary
	timer := time.NewTimer(30 * time.Second)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[ERROR] worker shutdown error: %v", err)
			return 1
		}
		log.Printf("[INFO] worker shutdown complete")
		return 0
	case <-timer.C:
		log.Printf("[ERROR] worker shutdown timeout - forcing exit")
		return 1
	}
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.LevelBraces, log.CallerFunc)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
