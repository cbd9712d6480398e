package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/weft/pkg/metrics"
)

// statusRoutes builds the read-only HTTP API served on the status address.
func (a *Agent) statusRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/clusters", a.handleClusters).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// serveStatus starts the status HTTP server. The returned channel closes once
// the server has shut down; binding failure is startup-fatal.
func (a *Agent) serveStatus(ctx context.Context) (<-chan struct{}, error) {
	listener, err := net.Listen("tcp", a.statusAddr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:           a.statusRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("status server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	a.logger.Info().Str("addr", listener.Addr().String()).Msg("status API listening")
	return done, nil
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *Agent) handleClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.List())
}

func (a *Agent) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "ok",
		"discovery_stale": a.coordinator.Stale(),
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
