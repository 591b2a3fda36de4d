package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/config"
	"knowgraph/internal/embedding"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/logging"
	"knowgraph/internal/runtracker"
	"knowgraph/internal/schema"
)

func productSchema(providerID string) schema.Schema {
	return schema.Schema{
		KBID: "retail-demo",
		Embedding: schema.Embedding{
			ProviderID:       providerID,
			ChunkingStrategy: func() string { if providerID == "" { return "" }; return "by_fields" }(),
			ChunkingParams:   map[string]any{"fields": []any{"name"}},
		},
		Nodes: []schema.NodeDecl{
			{Label: "Product", KeyProperty: "sku", Props: []string{"sku", "name"}},
		},
		Mappings: schema.Mappings{Sources: []schema.SourceMapping{{
			SourceID: "products",
			Extract: schema.Extract{
				Node: "Product",
				Key:  "$.sku",
				Assign: []schema.PropAssign{
					{Property: "name", Path: "$.name"},
				},
			},
		}}},
	}
}

type fakeEmbedProvider struct{ dim int }

func (f fakeEmbedProvider) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, f.dim, nil
}

func newTestCoordinator(t *testing.T, docs []map[string]any, s schema.Schema) (*Coordinator, *graphstore.Memory, *fakeTracker) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(docs)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}))
	t.Cleanup(ts.Close)

	reg := schema.NewRegistry()
	_, _, err := reg.Register(s)
	require.NoError(t, err)

	store := graphstore.NewMemory()
	embReg := embedding.NewRegistry(map[string]func(model string) embedding.Provider{
		"local": func(model string) embedding.Provider { return fakeEmbedProvider{dim: 4} },
	})
	tracker := newFakeTracker()
	conn := NewConnector(0)
	cfg := config.IngestionConfig{MaxConnectorPayloadBytes: 1 << 20, MaxParallelWrites: 4, RunErrorRetentionCeiling: 100}

	coord := NewCoordinator(reg, store, embReg, tracker, conn, cfg, logging.Noop{}, nil, nil)
	require.NoError(t, coord.AddSource(s.KBID, s.Mappings.Sources[0].SourceID, ts.URL, ""))
	return coord, store, tracker
}

func waitForTerminal(t *testing.T, tracker *fakeTracker, runID string) runtracker.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r := tracker.get(runID)
		if r.Status == runtracker.StatusCompleted || r.Status == runtracker.StatusFailed {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state in time", runID)
	return runtracker.Run{}
}

func TestIngest_CompletesAndWritesNodes(t *testing.T) {
	docs := []map[string]any{
		{"sku": "A", "name": "Widget"},
		{"sku": "B", "name": "Gadget"},
	}
	s := productSchema("local:test-model")
	coord, store, tracker := newTestCoordinator(t, docs, s)

	runID, err := coord.Ingest("retail-demo", "products")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run := waitForTerminal(t, tracker, runID)
	assert.Equal(t, runtracker.StatusCompleted, run.Status)
	assert.EqualValues(t, 2, run.DocsProcessed)

	node, ok, err := store.GetNode(context.Background(), graphstore.Identity{KBID: "retail-demo", Label: "Product", KeyValue: "A"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Widget", node.Properties["name"])
}

func TestIngest_ConcurrentCallsShareOneRun(t *testing.T) {
	docs := []map[string]any{{"sku": "A", "name": "Widget"}}
	s := productSchema("")
	coord, _, tracker := newTestCoordinator(t, docs, s)

	run1, err1 := coord.Ingest("retail-demo", "products")
	run2, err2 := coord.Ingest("retail-demo", "products")
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, run1, run2, "a second ingest call while one is active returns the existing run_id")

	waitForTerminal(t, tracker, run1)
}

func TestCancel_StopsActiveRunAndMarksItFailed(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // block the pull step until the test lets it go, or the run is cancelled
	}))
	t.Cleanup(func() {
		close(release)
		ts.Close()
	})

	s := productSchema("")
	reg := schema.NewRegistry()
	_, _, regErr := reg.Register(s)
	require.NoError(t, regErr)
	store := graphstore.NewMemory()
	embReg := embedding.NewRegistry(nil)
	tracker := newFakeTracker()
	conn := NewConnector(0)
	cfg := config.IngestionConfig{MaxConnectorPayloadBytes: 1 << 20, MaxParallelWrites: 4, RunErrorRetentionCeiling: 100}
	coord := NewCoordinator(reg, store, embReg, tracker, conn, cfg, logging.Noop{}, nil, nil)
	require.NoError(t, coord.AddSource(s.KBID, s.Mappings.Sources[0].SourceID, ts.URL, ""))

	assert.False(t, coord.Cancel("no-such-run"), "Cancel on an unknown run_id has nothing to stop")

	runID, err := coord.Ingest("retail-demo", "products")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return tracker.get(runID).Status == runtracker.StatusRunning
	}, time.Second, 5*time.Millisecond, "run never reached running before cancellation")

	assert.True(t, coord.Cancel(runID), "Cancel should find the active run")

	run := waitForTerminal(t, tracker, runID)
	assert.Equal(t, runtracker.StatusFailed, run.Status, "a cancelled run must terminate as failed, not completed")
	assert.NotEmpty(t, run.LastError)
}

func TestIngest_EmitsChunksWhenEmbeddingDeclared(t *testing.T) {
	docs := []map[string]any{{"sku": "A", "name": "Widget"}}
	s := productSchema("local:test-model")
	coord, store, tracker := newTestCoordinator(t, docs, s)

	runID, err := coord.Ingest("retail-demo", "products")
	require.NoError(t, err)
	waitForTerminal(t, tracker, runID)

	hits, err := store.VectorSearch(context.Background(), "retail-demo", make([]float32, 4), 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].NodeIdentity.KeyValue)
}
