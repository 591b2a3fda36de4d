package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"knowgraph/internal/cache"
	"knowgraph/internal/config"
	"knowgraph/internal/embedding"
	"knowgraph/internal/events"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/httpapi"
	"knowgraph/internal/ingest"
	"knowgraph/internal/logging"
	"knowgraph/internal/observability"
	"knowgraph/internal/retrieve"
	"knowgraph/internal/runtracker"
	"knowgraph/internal/schema"
	"knowgraph/internal/version"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg := config.Load()
	logging.Init(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("kgraphd starting")

	ctx := context.Background()
	shutdown, err := observability.Init(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing/metrics")
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	pool, err := graphstore.NewPool(ctx, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to graph store")
	}

	pg := graphstore.NewPostgres(pool, cfg.Timeouts.StoreOp)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate graph store schema")
	}

	// The run tracker shares this pool (it persists run records in the same
	// Postgres database), so it is built directly against pool below rather
	// than through graphstore.New, which would open a second pool.
	var store graphstore.GraphDB = pg
	if cfg.Store.VectorBackend == "qdrant" {
		vectors, err := graphstore.NewQdrantVectors(cfg.Store.QdrantURL, cfg.Store.QdrantCollectionPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to qdrant")
		}
		store = graphstore.NewHybrid(pg, vectors, "cosine")
	}
	defer store.Close()

	tracker := runtracker.NewTracker(pool, cfg.Ingestion.RunErrorRetentionCeiling)
	if err := tracker.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate run tracker schema")
	}
	if n, err := tracker.Sweep(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Msg("startup crash sweep failed")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("marked orphaned runs as failed on startup")
	}

	registry := schema.NewRegistry()
	if cfg.SchemaDir != "" {
		kbIDs, err := schema.LoadDir(registry, cfg.SchemaDir)
		if err != nil {
			log.Fatal().Err(err).Str("schema_dir", cfg.SchemaDir).Msg("failed to preload schema files")
		}
		log.Info().Strs("kb_ids", kbIDs).Str("schema_dir", cfg.SchemaDir).Msg("preloaded schemas")
	}
	embedder := embedding.DefaultRegistry(cfg.Embedding)
	connector := ingest.NewConnector(cfg.Timeouts.ConnectorPull)

	pub, err := events.New(cfg.Events)
	if err != nil {
		log.Warn().Err(err).Msg("events publisher init failed, continuing without it")
		pub = nil
	}
	if pub != nil {
		defer pub.Close()
	}

	ingestLock, err := cache.NewIngestLock(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("ingest lock init failed, continuing with in-process locking only")
		ingestLock = nil
	}

	coordinator := ingest.NewCoordinator(registry, store, embedder, tracker, connector, cfg.Ingestion, logging.Default().WithTrace(ctx), pub, ingestLock)

	qcache, err := cache.New(cfg.Cache, 10*time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("query embedding cache init failed, continuing without it")
		qcache = nil
	}
	if qcache != nil {
		defer qcache.Close()
	}

	surface := retrieve.New(registry, store, embedder, qcache)

	server := httpapi.NewServer(registry, coordinator, surface, tracker)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info().Str("addr", addr).Msg("kgraphd listening")
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
