package graphstore

import (
	"context"
	"fmt"
	"time"

	"knowgraph/internal/config"
)

// New constructs the Graph Store Adapter from cfg.Store. storeOpTimeout
// bounds every Postgres operation (default 15s when zero). "postgres" (the
// default) keeps nodes, edges, and chunk vectors in one database; "qdrant"
// keeps chunk vectors in a dedicated Qdrant deployment instead.
func New(ctx context.Context, cfg config.StoreConfig, storeOpTimeout time.Duration) (GraphDB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("graphstore: store DSN is required")
	}
	pool, err := NewPool(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("graphstore: connect postgres: %w", err)
	}
	pg := NewPostgres(pool, storeOpTimeout)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	switch cfg.VectorBackend {
	case "", "postgres":
		return pg, nil
	case "qdrant":
		if cfg.QdrantURL == "" {
			pool.Close()
			return nil, fmt.Errorf("graphstore: qdrant backend requires QDRANT_URL")
		}
		vectors, err := NewQdrantVectors(cfg.QdrantURL, cfg.QdrantCollectionPrefix)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return NewHybrid(pg, vectors, "cosine"), nil
	default:
		pool.Close()
		return nil, fmt.Errorf("graphstore: unsupported vector backend %q", cfg.VectorBackend)
	}
}
