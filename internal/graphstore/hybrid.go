package graphstore

import "context"

// Hybrid composes a Postgres-backed node/edge/graph-query store with a
// separately pluggable vector backend (e.g. Qdrant) for chunk vectors,
// matching the config knob that lets an operator move chunk storage off
// Postgres without moving the rest of the graph.
type Hybrid struct {
	*Postgres
	vectors interface {
		EnsureCollection(ctx context.Context, kbID string, dim int, metric string) error
		ReplaceChunks(ctx context.Context, node Identity, chunks []Chunk, prov Provenance) error
		VectorSearch(ctx context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error)
		Close() error
	}
	metric string
}

// NewHybrid pairs pg (nodes/edges/graph queries) with vectors (chunk storage
// and similarity search).
func NewHybrid(pg *Postgres, vectors *QdrantVectors, metric string) *Hybrid {
	return &Hybrid{Postgres: pg, vectors: vectors, metric: metric}
}

func (h *Hybrid) EnsureKB(ctx context.Context, spec MigrationSpec) error {
	if err := h.Postgres.EnsureKB(ctx, spec); err != nil {
		return err
	}
	for _, c := range spec.Constraints {
		if !c.EmbeddedLabel {
			continue
		}
		if err := h.vectors.EnsureCollection(ctx, spec.KBID, c.EmbeddingDim, h.metric); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hybrid) ReplaceChunks(ctx context.Context, node Identity, chunks []Chunk, prov Provenance) error {
	return h.vectors.ReplaceChunks(ctx, node, chunks, prov)
}

func (h *Hybrid) VectorSearch(ctx context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error) {
	return h.vectors.VectorSearch(ctx, kbID, query, topK, labelFilter)
}

func (h *Hybrid) Close() {
	_ = h.vectors.Close()
	h.Postgres.Close()
}
