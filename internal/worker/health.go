package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing stores are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes /healthz and /metrics for a worker process.
type HealthServer struct {
	server *http.Server
	pinger Pinger
}

// HealthResponse represents the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewHealthServer creates a health server listening on addr. Metrics are
// served from gatherer; a nil gatherer disables /metrics.
func NewHealthServer(pinger Pinger, gatherer prometheus.Gatherer, addr string) *HealthServer {
	hs := &HealthServer{pinger: pinger}

	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(log.Default()))
	router.HandleFunc("GET /healthz", hs.handleHealthz)
	if gatherer != nil {
		router.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	hs.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return hs
}

// Handler returns the routes, mainly for tests.
func (hs *HealthServer) Handler() http.Handler {
	return hs.server.Handler
}

// Start starts the HTTP server in a background goroutine.
// Server errors are logged but do not stop the worker.
func (hs *HealthServer) Start() {
	go func() {
		log.Printf("[DEBUG] health server starting on %s", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] health server error: %v", err)
		}
		log.Printf("[DEBUG] health server stopped")
	}()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests until ctx expires.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	log.Printf("[DEBUG] shutting down health server")
	return hs.server.Shutdown(ctx)
}

// handleHealthz returns 200 {"status":"healthy"} when the stores answer a
// ping, 503 with the error otherwise.
func (hs *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy"}
	statusCode := http.StatusOK
	if err := hs.pinger.Ping(ctx); err != nil {
		response = HealthResponse{Status: "unhealthy", Error: err.Error()}
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[ERROR] failed to encode health response: %v", err)
	}
}
