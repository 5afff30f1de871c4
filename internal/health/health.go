// Package health provides the liveness and readiness endpoints.
//
// /healthz reports that the process is up. /readyz additionally reports
// which tagging and retrieval engines are loaded, so an operator can see
// at a glance whether the knowledge base made it in.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Engines describes the interpretation engines available to requests.
type Engines struct {
	Taggers          []string `json:"taggers"`
	Retrievers       []string `json:"retrievers"`
	DefaultTagger    string   `json:"default_tagger"`
	DefaultRetriever string   `json:"default_retriever"`
	KnowledgeBase    int      `json:"knowledge_base_records"`
}

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port    int
	engines Engines
	ready   atomic.Bool
	server  *http.Server
}

// New creates a new health check server.
func New(port int, engines Engines) *Server {
	return &Server{port: port, engines: engines}
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

type status struct {
	Status  string   `json:"status"`
	Engines *Engines `json:"engines,omitempty"`
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.write(w, nil)
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		s.write(w, &s.engines)
	})
	return mux
}

func (s *Server) write(w http.ResponseWriter, engines *Engines) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(status{Status: "not_ready"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status{Status: "ok", Engines: engines})
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
