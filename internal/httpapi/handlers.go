package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"knowgraph/internal/kgerrors"
	"knowgraph/internal/schema"
)

func (s *Server) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	var raw schema.Schema
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	kbID, warnings, err := s.registry.Register(raw)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"kb_id": kbID, "warnings": warnings})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")
	sc, err := s.registry.Get(kbID)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleValidateSchema(w http.ResponseWriter, r *http.Request) {
	var raw schema.Schema
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	warnings, err := schema.Validate(raw)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "warnings": warnings})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")
	var payload struct {
		SourceID     string `json:"source_id"`
		ConnectorURL string `json:"connector_url"`
		AuthRef      string `json:"auth_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ingestor.AddSource(kbID, payload.SourceID, payload.ConnectorURL, payload.AuthRef); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")
	sourceID := r.PathValue("sourceID")
	runID, err := s.ingestor.Ingest(kbID, sourceID)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if !s.ingestor.Cancel(runID) {
		respondError(w, http.StatusNotFound, errors.New("no active run with that run_id"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kbID := r.PathValue("kbID")
	var payload struct {
		Text        string `json:"text"`
		TopK        int    `json:"top_k"`
		LabelFilter string `json:"label_filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	hits, err := s.retrieval.SemanticSearch(ctx, kbID, payload.Text, payload.TopK, payload.LabelFilter)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kbID := r.PathValue("kbID")
	var payload struct {
		QueryText string         `json:"query_text"`
		Params    map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.retrieval.GraphQuery(ctx, kbID, payload.QueryText, payload.Params)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kbID := r.PathValue("kbID")
	if _, err := s.registry.Get(kbID); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	status, err := s.tracker.Status(ctx, kbID)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"kb_status": status})
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kbID := r.URL.Query().Get("kb_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.tracker.RecentRuns(ctx, kbID, limit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFromError maps the core error taxonomy to HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, kgerrors.ErrSchemaInvalid), errors.Is(err, kgerrors.ErrPathInvalid):
		return http.StatusBadRequest
	case errors.Is(err, kgerrors.ErrKBNotFound), errors.Is(err, kgerrors.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, kgerrors.ErrQueryNotReadOnly):
		return http.StatusForbidden
	case errors.Is(err, kgerrors.ErrQueryInvalid):
		return http.StatusBadRequest
	case errors.Is(err, kgerrors.ErrConnectorResponseTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, kgerrors.ErrConnectorUnavailable), errors.Is(err, kgerrors.ErrEmbeddingUnavailable),
		errors.Is(err, kgerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
