// Package api exposes submission, status and result lookups over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyluth/nlbayes/internal/dispatcher"
)

// maxRequestSize caps submission bodies. Networks with tens of thousands of
// edges fit comfortably.
const maxRequestSize = 32 * 1024 * 1024

// Pinger reports whether the backing stores are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front end of the dispatcher.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	pinger     Pinger
	gatherer   prometheus.Gatherer
	version    string
}

// New creates a server. A nil gatherer disables /metrics.
func New(d *dispatcher.Dispatcher, pinger Pinger, gatherer prometheus.Gatherer, version string) *Server {
	return &Server{dispatcher: d, pinger: pinger, gatherer: gatherer, version: version}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] http server shutdown: %v", err)
		}
	}()

	log.Printf("[INFO] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Routes returns the http.Handler with all routes configured.
func (s *Server) Routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.AppInfo("nlbayes", "dyluth", s.version),
		rest.Ping,
		rest.SizeLimit(maxRequestSize),
	)

	router.HandleFunc("GET /healthz", s.handleHealthz)
	if s.gatherer != nil {
		router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("POST /jobs", s.handleSubmit)
		api.HandleFunc("GET /jobs/{id}", s.handleJob)
		api.HandleFunc("GET /tasks/{id}", s.handleStatus)
		api.HandleFunc("GET /results/{hash}", s.handleResult)
	})

	return router
}
