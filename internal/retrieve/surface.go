// Package retrieve implements the retrieval surface: semantic_search
// and graph_query over a registered knowledge base.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"knowgraph/internal/cache"
	"knowgraph/internal/embedding"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/kgerrors"
	"knowgraph/internal/observability"
	"knowgraph/internal/schema"
)

var tracer = otel.Tracer("knowgraph/retrieve")

// Hit is one semantic_search result, a vector hit resolved back to its
// owning node's properties.
type Hit struct {
	NodeIdentity graphstore.Identity
	Properties   map[string]any
	Score        float64
	Snippet      string
}

// Surface is the C9 Retrieval Surface: semantic_search and graph_query,
// both scoped to a registered kb_id.
type Surface struct {
	registry *schema.Registry
	store    graphstore.GraphDB
	embedder *embedding.Registry
	qcache   *cache.QueryEmbeddingCache
}

// New builds a Surface. qcache may be nil (caching disabled).
func New(registry *schema.Registry, store graphstore.GraphDB, embedder *embedding.Registry, qcache *cache.QueryEmbeddingCache) *Surface {
	return &Surface{registry: registry, store: store, embedder: embedder, qcache: qcache}
}

// SemanticSearch embeds text under the KB's declared provider and returns
// the topK nearest chunks, each resolved back to its owning node's
// properties. labelFilter, when non-empty, restricts hits to that node label.
func (s *Surface) SemanticSearch(ctx context.Context, kbID, text string, topK int, labelFilter string) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "retrieve.semantic_search", trace.WithAttributes(
		attribute.String("kb_id", kbID), attribute.Int("top_k", topK),
	))
	defer span.End()
	defer observeRetrievalStage(kbID, "semantic_search", time.Now())

	sc, err := s.registry.Get(kbID)
	if err != nil {
		return nil, kgerrors.Op("retrieve.SemanticSearch", err)
	}
	if sc.Embedding.ProviderID == "" {
		return nil, kgerrors.Op("retrieve.SemanticSearch", fmt.Errorf("%w: kb %q declares no embedding provider", kgerrors.ErrEmbeddingUnavailable, kbID))
	}

	vec, cached := s.qcache.Get(ctx, kbID, sc.Embedding.ProviderID, text)
	if !cached {
		vectors, err := s.embedder.Embed(ctx, sc.Embedding.ProviderID, []string{text}, 0)
		if err != nil {
			return nil, kgerrors.Op("retrieve.SemanticSearch", err)
		}
		vec = vectors[0]
		s.qcache.Set(ctx, kbID, sc.Embedding.ProviderID, text, vec)
	}

	hits, err := s.store.VectorSearch(ctx, kbID, vec, topK, labelFilter)
	if err != nil {
		return nil, kgerrors.Op("retrieve.SemanticSearch", err)
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		node, ok, err := s.store.GetNode(ctx, h.NodeIdentity)
		if err != nil {
			return nil, kgerrors.Op("retrieve.SemanticSearch", err)
		}
		var props map[string]any
		if ok {
			props = node.Properties
		}
		out = append(out, Hit{NodeIdentity: h.NodeIdentity, Properties: props, Score: h.Score, Snippet: h.Snippet})
	}
	return out, nil
}

// GraphQuery delegates to the store's scoped read query. The store is
// responsible for rewriting every pattern to kb_id and rejecting write
// attempts with ErrQueryNotReadOnly.
func (s *Surface) GraphQuery(ctx context.Context, kbID, queryText string, params map[string]any) ([]map[string]any, error) {
	ctx, span := tracer.Start(ctx, "retrieve.graph_query", trace.WithAttributes(attribute.String("kb_id", kbID)))
	defer span.End()
	defer observeRetrievalStage(kbID, "graph_query", time.Now())

	if _, err := s.registry.Get(kbID); err != nil {
		return nil, kgerrors.Op("retrieve.GraphQuery", err)
	}
	rows, err := s.store.GraphQuery(ctx, kbID, queryText, params)
	if err != nil {
		return nil, kgerrors.Op("retrieve.GraphQuery", err)
	}
	return rows, nil
}

func observeRetrievalStage(kbID, stage string, since time.Time) {
	observability.ObserveHistogram(observability.MetricRetrievalStageMS, float64(time.Since(since).Milliseconds()),
		map[string]string{"kb_id": kbID, "stage": stage})
}
