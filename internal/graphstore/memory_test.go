package graphstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/kgerrors"
)

func TestMemory_UpsertNodeMergesOnReingest(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	id := Identity{KBID: "retail-demo", Label: "Product", KeyValue: "A"}
	prov1 := Provenance{KBID: id.KBID, SourceID: "products", RunID: "run-1", UpdatedAt: time.Unix(1, 0)}
	require.NoError(t, m.UpsertNode(ctx, id, map[string]any{"name": "x"}, prov1))

	prov2 := Provenance{KBID: id.KBID, SourceID: "products", RunID: "run-2", UpdatedAt: time.Unix(2, 0)}
	require.NoError(t, m.UpsertNode(ctx, id, map[string]any{"price": 9.99}, prov2))

	n, ok, err := m.GetNode(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", n.Properties["name"], "a property absent from the second upsert must survive")
	assert.Equal(t, 9.99, n.Properties["price"])
	assert.Equal(t, "run-2", n.Provenance.RunID)

	counts, err := m.Count(ctx, id.KBID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Nodes, "re-ingest must not duplicate the node")
}

func TestMemory_UpsertEdgeMergesOnReingest(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	from := Identity{KBID: "docs", Label: "Document", KeyValue: "d1"}
	to := Identity{KBID: "docs", Label: "Person", KeyValue: "a@x"}
	edgeID := EdgeIdentity{KBID: "docs", Type: "AUTHORED_BY", From: from, To: to}
	prov := Provenance{KBID: "docs", SourceID: "s", RunID: "run-1", UpdatedAt: time.Unix(1, 0)}

	require.NoError(t, m.UpsertEdge(ctx, edgeID, nil, prov))
	require.NoError(t, m.UpsertEdge(ctx, edgeID, nil, prov))

	counts, err := m.Count(ctx, "docs")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Relationships)

	neigh := m.Neighbors(from, "AUTHORED_BY")
	require.Len(t, neigh, 1)
	assert.Equal(t, to, neigh[0])
}

func TestMemory_ReplaceChunksIsWholesale(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	node := Identity{KBID: "docs", Label: "Document", KeyValue: "d1"}
	prov := Provenance{KBID: "docs", SourceID: "s", RunID: "run-1", UpdatedAt: time.Now()}

	require.NoError(t, m.ReplaceChunks(ctx, node, []Chunk{
		{Text: "first", Vector: []float32{1, 0}, ChunkIndex: 0},
		{Text: "second", Vector: []float32{0, 1}, ChunkIndex: 1},
	}, prov))
	require.NoError(t, m.ReplaceChunks(ctx, node, []Chunk{
		{Text: "only", Vector: []float32{1, 1}, ChunkIndex: 0},
	}, prov))

	hits, err := m.VectorSearch(ctx, "docs", []float32{1, 1}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "only", hits[0].Snippet)
}

func TestMemory_VectorSearchScopesByKBAndOrdersByScore(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	a := Identity{KBID: "kb1", Label: "Product", KeyValue: "A"}
	b := Identity{KBID: "kb1", Label: "Product", KeyValue: "B"}
	other := Identity{KBID: "kb2", Label: "Product", KeyValue: "A"}
	prov := Provenance{UpdatedAt: time.Now()}

	require.NoError(t, m.ReplaceChunks(ctx, a, []Chunk{{Text: "a", Vector: []float32{1, 0}}}, prov))
	require.NoError(t, m.ReplaceChunks(ctx, b, []Chunk{{Text: "b", Vector: []float32{0, 1}}}, prov))
	require.NoError(t, m.ReplaceChunks(ctx, other, []Chunk{{Text: "other", Vector: []float32{1, 0}}}, prov))

	hits, err := m.VectorSearch(ctx, "kb1", []float32{1, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 2, "kb2's chunk must not leak into kb1's results")
	assert.Equal(t, "a", hits[0].Snippet)
}

func TestMemory_GraphQueryScopesByKB(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	prov := Provenance{UpdatedAt: time.Now()}

	require.NoError(t, m.UpsertNode(ctx, Identity{KBID: "kb1", Label: "Product", KeyValue: "A"}, nil, prov))
	require.NoError(t, m.UpsertNode(ctx, Identity{KBID: "kb2", Label: "Product", KeyValue: "A"}, nil, prov))

	rows, err := m.GraphQuery(ctx, "kb1", "SELECT * FROM nodes", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "kb2's node must not leak into kb1's result")
	assert.Equal(t, "Product", rows[0]["label"])
}

func TestMemory_GraphQueryFiltersByParam(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	prov := Provenance{UpdatedAt: time.Now()}

	require.NoError(t, m.UpsertNode(ctx, Identity{KBID: "docs", Label: "Document", KeyValue: "d1"}, nil, prov))
	require.NoError(t, m.UpsertNode(ctx, Identity{KBID: "docs", Label: "Person", KeyValue: "a@x"}, nil, prov))

	rows, err := m.GraphQuery(ctx, "docs", "SELECT * FROM nodes WHERE label = $label", map[string]any{"label": "Person"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@x", rows[0]["key_value"])
}

func TestMemory_GraphQueryRejectsWrites(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, err := m.GraphQuery(context.Background(), "docs", "UPDATE nodes SET x = 1", nil)
	assert.True(t, errors.Is(err, kgerrors.ErrQueryNotReadOnly))
}

func TestMemory_GraphQueryRejectsUnrecognizedSyntax(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, err := m.GraphQuery(context.Background(), "docs", "MATCH (n) RETURN n", nil)
	assert.True(t, errors.Is(err, kgerrors.ErrQueryInvalid))
}
