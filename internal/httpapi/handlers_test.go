package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/config"
	"knowgraph/internal/embedding"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/ingest"
	"knowgraph/internal/logging"
	"knowgraph/internal/retrieve"
	"knowgraph/internal/runtracker"
	"knowgraph/internal/schema"
)

// fakeTracker is a minimal in-memory double satisfying both
// ingest.RunTracker and StatusReader, so the HTTP layer can be tested
// without a live Postgres instance.
type fakeTracker struct {
	mu   sync.Mutex
	runs map[string]*runtracker.Run
}

func newFakeTracker() *fakeTracker { return &fakeTracker{runs: make(map[string]*runtracker.Run)} }

func (f *fakeTracker) Start(_ context.Context, kbID, sourceID string, startedAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	runID := "run-" + sourceID
	f.runs[runID] = &runtracker.Run{KBID: kbID, SourceID: sourceID, RunID: runID, Status: runtracker.StatusStarting, StartedAt: startedAt}
	return runID, nil
}

func (f *fakeTracker) MarkRunning(_ context.Context, _, _, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = runtracker.StatusRunning
	return nil
}

func (f *fakeTracker) RecordDocument(_ context.Context, _, _, runID string, nodes, edges int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.DocsProcessed++
	r.NodesUpserted += nodes
	r.EdgesUpserted += edges
	return nil
}

func (f *fakeTracker) RecordError(_ context.Context, _, _, runID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Errors = append(f.runs[runID].Errors, msg)
	return nil
}

func (f *fakeTracker) Complete(_ context.Context, _, _, runID string, status runtracker.Status, lastErr error, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.Status = status
	r.FinishedAt = finishedAt
	return nil
}

func (f *fakeTracker) Status(_ context.Context, kbID string) (runtracker.KBStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := runtracker.KBStatus{KBID: kbID}
	for _, r := range f.runs {
		if r.KBID == kbID {
			out.Sources = append(out.Sources, runtracker.SourceStatus{SourceID: r.SourceID, LastRun: *r})
		}
	}
	return out, nil
}

func (f *fakeTracker) RecentRuns(_ context.Context, kbID string, limit int) ([]runtracker.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtracker.Run
	for _, r := range f.runs {
		if kbID == "" || r.KBID == kbID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := schema.NewRegistry()
	store := graphstore.NewMemory()
	embReg := embedding.NewRegistry(nil)
	tracker := newFakeTracker()
	cfg := config.IngestionConfig{MaxConnectorPayloadBytes: 1 << 20, MaxParallelWrites: 2, RunErrorRetentionCeiling: 100}
	coord := ingest.NewCoordinator(reg, store, embReg, tracker, ingest.NewConnector(0), cfg, logging.Noop{}, nil, nil)
	surface := retrieve.New(reg, store, embReg, nil)
	return NewServer(reg, coord, surface, tracker)
}

func TestRegisterSchema_ThenGet(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(schema.Schema{
		KBID:  "retail-demo",
		Nodes: []schema.NodeDecl{{Label: "Product", KeyProperty: "sku", Props: []string{"sku"}}},
		Mappings: schema.Mappings{Sources: []schema.SourceMapping{{
			SourceID: "products",
			Extract:  schema.Extract{Node: "Product", Key: "$.sku"},
		}}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/schemas", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/schemas/retail-demo", nil)
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestRegisterSchema_InvalidReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(schema.Schema{KBID: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/schemas", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSchema_UnknownReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schemas/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddSourceAndIngest(t *testing.T) {
	srv := newTestServer(t)

	schemaBody, _ := json.Marshal(schema.Schema{
		KBID:  "retail-demo",
		Nodes: []schema.NodeDecl{{Label: "Product", KeyProperty: "sku", Props: []string{"sku"}}},
		Mappings: schema.Mappings{Sources: []schema.SourceMapping{{
			SourceID: "products",
			Extract:  schema.Extract{Node: "Product", Key: "$.sku"},
		}}},
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/schemas", bytes.NewReader(schemaBody)))
	require.Equal(t, http.StatusCreated, rec.Code)

	docsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"sku":"A"}]`))
	}))
	defer docsServer.Close()

	addBody, _ := json.Marshal(map[string]string{"source_id": "products", "connector_url": docsServer.URL})
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/api/v1/kbs/retail-demo/sources", bytes.NewReader(addBody)))
	require.Equal(t, http.StatusOK, rec2.Code)

	rec3 := httptest.NewRecorder()
	srv.ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/api/v1/kbs/retail-demo/sources/products/ingest", nil))
	assert.Equal(t, http.StatusAccepted, rec3.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec3.Body).Decode(&resp))
	assert.NotEmpty(t, resp["run_id"])
}

func TestSemanticSearch_UnknownKBReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"text": "hello", "top_k": 3})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/kbs/missing/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecentRuns_ReturnsEmptyListInitially(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
