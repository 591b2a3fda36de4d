// Package httpapi exposes the core capability surface over HTTP. Transport
// is deliberately thin: every handler decodes a request,
// calls straight into a core component, and encodes the result — no
// business logic lives here.
package httpapi

import (
	"context"
	"net/http"

	"knowgraph/internal/ingest"
	"knowgraph/internal/retrieve"
	"knowgraph/internal/runtracker"
	"knowgraph/internal/schema"
)

// StatusReader is the subset of runtracker.Tracker the status/recent-runs
// handlers need, narrowed to an interface so tests can inject an in-memory
// fake instead of a live Postgres-backed tracker.
type StatusReader interface {
	Status(ctx context.Context, kbID string) (runtracker.KBStatus, error)
	RecentRuns(ctx context.Context, kbID string, limit int) ([]runtracker.Run, error)
}

// Server wires the capability surface to a ServeMux.
type Server struct {
	registry  *schema.Registry
	ingestor  *ingest.Coordinator
	retrieval *retrieve.Surface
	tracker   StatusReader
	mux       *http.ServeMux
}

// NewServer builds the HTTP API server wired to the core components.
func NewServer(registry *schema.Registry, ingestor *ingest.Coordinator, retrieval *retrieve.Surface, tracker StatusReader) *Server {
	s := &Server{registry: registry, ingestor: ingestor, retrieval: retrieval, tracker: tracker, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/schemas", s.handleRegisterSchema)
	s.mux.HandleFunc("GET /api/v1/schemas/{kbID}", s.handleGetSchema)
	s.mux.HandleFunc("POST /api/v1/schemas/validate", s.handleValidateSchema)

	s.mux.HandleFunc("POST /api/v1/kbs/{kbID}/sources", s.handleAddSource)
	s.mux.HandleFunc("POST /api/v1/kbs/{kbID}/sources/{sourceID}/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /api/v1/runs/{runID}/cancel", s.handleCancelRun)

	s.mux.HandleFunc("POST /api/v1/kbs/{kbID}/search", s.handleSemanticSearch)
	s.mux.HandleFunc("POST /api/v1/kbs/{kbID}/query", s.handleGraphQuery)

	s.mux.HandleFunc("GET /api/v1/kbs/{kbID}/status", s.handleSyncStatus)
	s.mux.HandleFunc("GET /api/v1/runs", s.handleRecentRuns)
}
