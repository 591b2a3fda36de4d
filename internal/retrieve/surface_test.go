package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/embedding"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/kgerrors"
	"knowgraph/internal/schema"
)

type fixedProvider struct{ vec []float32 }

func (f fixedProvider) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, len(f.vec), nil
}

func docsSchema(providerID string) schema.Schema {
	return schema.Schema{
		KBID:      "docs",
		Embedding: schema.Embedding{ProviderID: providerID},
		Nodes:     []schema.NodeDecl{{Label: "Document", KeyProperty: "id", Props: []string{"id", "title"}}},
		Mappings: schema.Mappings{Sources: []schema.SourceMapping{{
			SourceID: "s1",
			Extract:  schema.Extract{Node: "Document", Key: "$.id"},
		}}},
	}
}

func TestSemanticSearch_ResolvesNodeProperties(t *testing.T) {
	reg := schema.NewRegistry()
	_, _, err := reg.Register(docsSchema("local:test"))
	require.NoError(t, err)

	store := graphstore.NewMemory()
	ctx := context.Background()
	identity := graphstore.Identity{KBID: "docs", Label: "Document", KeyValue: "d1"}
	require.NoError(t, store.UpsertNode(ctx, identity, map[string]any{"id": "d1", "title": "Knowledge Graphs"}, graphstore.Provenance{KBID: "docs"}))
	require.NoError(t, store.ReplaceChunks(ctx, identity, []graphstore.Chunk{{Text: "knowledge graphs", Vector: []float32{1, 0, 0}, ChunkIndex: 0}}, graphstore.Provenance{KBID: "docs"}))

	embReg := embedding.NewRegistry(map[string]func(string) embedding.Provider{
		"local": func(string) embedding.Provider { return fixedProvider{vec: []float32{1, 0, 0}} },
	})
	surface := New(reg, store, embReg, nil)

	hits, err := surface.SemanticSearch(ctx, "docs", "knowledge graphs", 3, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Knowledge Graphs", hits[0].Properties["title"])
	assert.Equal(t, identity, hits[0].NodeIdentity)
}

func TestSemanticSearch_UnknownKBFails(t *testing.T) {
	reg := schema.NewRegistry()
	store := graphstore.NewMemory()
	embReg := embedding.NewRegistry(nil)
	surface := New(reg, store, embReg, nil)

	_, err := surface.SemanticSearch(context.Background(), "missing", "q", 3, "")
	assert.True(t, errors.Is(err, kgerrors.ErrKBNotFound))
}

func TestSemanticSearch_NoProviderDeclaredFails(t *testing.T) {
	reg := schema.NewRegistry()
	_, _, err := reg.Register(docsSchema(""))
	require.NoError(t, err)
	store := graphstore.NewMemory()
	embReg := embedding.NewRegistry(nil)
	surface := New(reg, store, embReg, nil)

	_, err = surface.SemanticSearch(context.Background(), "docs", "q", 3, "")
	assert.True(t, errors.Is(err, kgerrors.ErrEmbeddingUnavailable))
}

func TestGraphQuery_UnknownKBFails(t *testing.T) {
	reg := schema.NewRegistry()
	store := graphstore.NewMemory()
	surface := New(reg, store, embedding.NewRegistry(nil), nil)

	_, err := surface.GraphQuery(context.Background(), "missing", "MATCH (n) RETURN n", nil)
	assert.True(t, errors.Is(err, kgerrors.ErrKBNotFound))
}

func TestGraphQuery_DelegatesToStore(t *testing.T) {
	reg := schema.NewRegistry()
	_, _, err := reg.Register(docsSchema(""))
	require.NoError(t, err)
	store := graphstore.NewMemory()
	surface := New(reg, store, embedding.NewRegistry(nil), nil)

	_, err = surface.GraphQuery(context.Background(), "docs", "MATCH (n) RETURN n", nil)
	assert.True(t, errors.Is(err, kgerrors.ErrQueryInvalid), "Memory's GraphQuery rejects MATCH syntax with ErrQueryInvalid")
}
