package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"knowgraph/internal/cache"
	"knowgraph/internal/config"
	"knowgraph/internal/embedding"
	"knowgraph/internal/events"
	"knowgraph/internal/graphstore"
	"knowgraph/internal/kgerrors"
	"knowgraph/internal/logging"
	"knowgraph/internal/mapping"
	"knowgraph/internal/observability"
	"knowgraph/internal/runtracker"
	"knowgraph/internal/schema"
)

var tracer = otel.Tracer("knowgraph/ingest")

// RunTracker is the subset of runtracker.Tracker the coordinator needs,
// narrowed to an interface so tests can inject an in-memory fake instead of
// a live Postgres-backed tracker.
type RunTracker interface {
	Start(ctx context.Context, kbID, sourceID string, startedAt time.Time) (string, error)
	MarkRunning(ctx context.Context, kbID, sourceID, runID string) error
	RecordDocument(ctx context.Context, kbID, sourceID, runID string, nodes, edges int64) error
	RecordError(ctx context.Context, kbID, sourceID, runID string, msg string) error
	Complete(ctx context.Context, kbID, sourceID, runID string, status runtracker.Status, lastErr error, finishedAt time.Time) error
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// Coordinator owns source registration and run orchestration across every
// KB. One Coordinator is shared process-wide.
type Coordinator struct {
	registry  *schema.Registry
	store     graphstore.GraphDB
	embedder  *embedding.Registry
	tracker   RunTracker
	connector *Connector
	cfg       config.IngestionConfig
	log       logging.Logger
	events    *events.Publisher
	lock      *cache.IngestLock

	mu      sync.Mutex
	sources map[string]map[string]SourceConfig
	active  map[string]activeRun

	sf singleflight.Group
}

// lockTTL bounds how long a cross-instance ingest lock is held before it
// expires on its own, in case an instance dies mid-run without releasing it.
const lockTTL = time.Hour

// NewCoordinator wires the components a run needs. pub and lock may both be
// nil (event publication and cross-instance locking disabled respectively);
// every Coordinator method tolerates either being nil. lock guards against
// two Coordinator instances (e.g. behind a load balancer) racing the same
// (kb, source) run; the in-process singleflight.Group above only dedupes
// concurrent calls within one instance.
func NewCoordinator(registry *schema.Registry, store graphstore.GraphDB, embedder *embedding.Registry,
	tracker RunTracker, connector *Connector, cfg config.IngestionConfig, log logging.Logger, pub *events.Publisher, lock *cache.IngestLock) *Coordinator {
	return &Coordinator{
		registry:  registry,
		store:     store,
		embedder:  embedder,
		tracker:   tracker,
		connector: connector,
		cfg:       cfg,
		log:       log,
		events:    pub,
		lock:      lock,
		sources:   make(map[string]map[string]SourceConfig),
		active:    make(map[string]activeRun),
	}
}

func (c *Coordinator) publish(ctx context.Context, kbID, sourceID, runID string, status runtracker.Status, lastErr error, docsProcessed, nodesUpserted, edgesUpserted int64) {
	if c.events == nil {
		return
	}
	ev := events.RunEvent{
		KBID: kbID, SourceID: sourceID, RunID: runID, Status: status,
		DocsTotal: docsProcessed, NodesTotal: nodesUpserted, EdgesTotal: edgesUpserted,
		Timestamp: time.Now(),
	}
	if lastErr != nil {
		ev.LastError = lastErr.Error()
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.log.Warn("ingest failed to publish run event", logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID})
	}
}

func sourceKey(kbID, sourceID string) string { return kbID + "/" + sourceID }

// AddSource registers a source's connector reference. Fails if the KB has
// no schema or source_id isn't declared in that schema's mappings.
func (c *Coordinator) AddSource(kbID, sourceID, connectorURL, authRef string) error {
	s, err := c.registry.Get(kbID)
	if err != nil {
		return kgerrors.Op("ingest.AddSource", err)
	}
	if _, ok := s.SourceByID(sourceID); !ok {
		return kgerrors.Op("ingest.AddSource", fmt.Errorf("%w: %s", kgerrors.ErrUnknownSource, sourceID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources[kbID] == nil {
		c.sources[kbID] = make(map[string]SourceConfig)
	}
	c.sources[kbID][sourceID] = SourceConfig{ConnectorURL: connectorURL, AuthRef: authRef}
	return nil
}

// Ingest starts (or rejoins) a run for (kbID, sourceID) and returns its
// run_id immediately; the run continues in the background. At most one
// active run exists per (kb, source) at a time: a concurrent or subsequent
// call while a run is active returns the existing run_id.
func (c *Coordinator) Ingest(kbID, sourceID string) (string, error) {
	key := sourceKey(kbID, sourceID)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		c.mu.Lock()
		if ar, ok := c.active[key]; ok {
			c.mu.Unlock()
			return ar.runID, nil
		}
		c.mu.Unlock()

		s, err := c.registry.Get(kbID)
		if err != nil {
			return nil, kgerrors.Op("ingest.Ingest", err)
		}
		src, ok := s.SourceByID(sourceID)
		if !ok {
			return nil, kgerrors.Op("ingest.Ingest", fmt.Errorf("%w: %s", kgerrors.ErrUnknownSource, sourceID))
		}
		c.mu.Lock()
		sc, ok := c.sources[kbID][sourceID]
		c.mu.Unlock()
		if !ok {
			return nil, kgerrors.Op("ingest.Ingest", fmt.Errorf("%w: %s", kgerrors.ErrUnknownSource, sourceID))
		}

		runCtx, cancel := context.WithCancel(context.Background())
		runID, err := c.tracker.Start(runCtx, kbID, sourceID, time.Now())
		if err != nil {
			cancel()
			return nil, err
		}

		acquired, err := c.lock.Acquire(runCtx, kbID, sourceID, runID, lockTTL)
		if err != nil {
			cancel()
			return nil, kgerrors.Op("ingest.Ingest", err)
		}
		if !acquired {
			cancel()
			conflictErr := fmt.Errorf("%w: another instance is already ingesting %s/%s", kgerrors.ErrConstraintViolation, kbID, sourceID)
			_ = c.tracker.Complete(runCtx, kbID, sourceID, runID, runtracker.StatusFailed, conflictErr, time.Now())
			return nil, kgerrors.Op("ingest.Ingest", conflictErr)
		}

		c.mu.Lock()
		c.active[key] = activeRun{runID: runID, cancel: cancel}
		c.mu.Unlock()

		go c.run(runCtx, key, s, src, sc, runID)
		return runID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cancel requests that the run identified by runID stop at its next
// checkpoint. Returns false if no active run matches runID.
func (c *Coordinator) Cancel(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ar := range c.active {
		if ar.runID == runID {
			ar.cancel()
			return true
		}
	}
	return false
}

func (c *Coordinator) run(ctx context.Context, key string, s schema.Schema, src schema.SourceMapping, sc SourceConfig, runID string) {
	kbID, sourceID := s.KBID, src.SourceID
	defer func() {
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
		if err := c.lock.Release(context.Background(), kbID, sourceID, runID); err != nil {
			c.log.Warn("ingest failed to release cross-instance lock", logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID})
		}
	}()

	ctx, span := tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("kb_id", kbID),
		attribute.String("source_id", sourceID),
		attribute.String("run_id", runID),
	))
	defer span.End()

	fields := logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID}
	c.log.Info("ingest run starting", fields)
	stageLabels := map[string]string{"kb_id": kbID, "source_id": sourceID}

	stageStart := time.Now()
	if err := c.start(ctx, s, kbID, sourceID, runID); err != nil {
		c.fail(ctx, span, kbID, sourceID, runID, err)
		return
	}
	observeStage(stageLabels, "start", stageStart)

	stageStart = time.Now()
	docs, err := c.connector.Pull(ctx, sc.ConnectorURL, sc.AuthRef, c.cfg.MaxConnectorPayloadBytes)
	if err != nil {
		c.fail(ctx, span, kbID, sourceID, runID, err)
		return
	}
	observeStage(stageLabels, "pull", stageStart)

	stageStart = time.Now()
	docResults, err := c.mapDocuments(ctx, s, src, docs, kbID, sourceID, runID)
	if err != nil {
		c.fail(ctx, span, kbID, sourceID, runID, err)
		return
	}
	observeStage(stageLabels, "map", stageStart)

	stageStart = time.Now()
	if err := c.embedChunks(ctx, s, docResults); err != nil {
		c.fail(ctx, span, kbID, sourceID, runID, err)
		return
	}
	observeStage(stageLabels, "embed", stageStart)

	stageStart = time.Now()
	nodes, edges, err := c.writeAll(ctx, kbID, sourceID, runID, docResults)
	if err != nil {
		c.fail(ctx, span, kbID, sourceID, runID, err)
		return
	}
	observeStage(stageLabels, "write", stageStart)

	if err := c.tracker.Complete(ctx, kbID, sourceID, runID, runtracker.StatusCompleted, nil, time.Now()); err != nil {
		c.log.Error("ingest run failed to record completion", fields)
	}
	c.publish(ctx, kbID, sourceID, runID, runtracker.StatusCompleted, nil, int64(len(docResults)), nodes, edges)
	observability.IncCounter(observability.MetricIngestionDocsTotal, int64(len(docResults)), stageLabels)
	span.SetStatus(codes.Ok, "")
	c.log.Info("ingest run completed", fields)
}

func observeStage(labels map[string]string, stage string, since time.Time) {
	withStage := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		withStage[k] = v
	}
	withStage["stage"] = stage
	observability.ObserveHistogram(observability.MetricIngestionStageMS, float64(time.Since(since).Milliseconds()), withStage)
}

func (c *Coordinator) start(ctx context.Context, s schema.Schema, kbID, sourceID, runID string) error {
	ctx, startSpan := tracer.Start(ctx, "ingest.start")
	defer startSpan.End()

	if err := c.store.EnsureKB(ctx, migrationSpecFor(s)); err != nil {
		return kgerrors.Op("ingest.start", err)
	}
	anchor := graphstore.Identity{KBID: kbID, Label: "__kb__", KeyValue: kbID}
	setupProv := graphstore.Provenance{KBID: kbID, SourceID: "system", RunID: "kb-setup-" + runID, UpdatedAt: time.Now()}
	if err := c.store.UpsertNode(ctx, anchor, map[string]any{"kb_id": kbID}, setupProv); err != nil {
		return kgerrors.Op("ingest.start", err)
	}
	return c.tracker.MarkRunning(ctx, kbID, sourceID, runID)
}

// mapDocuments invokes the mapping engine per document. Per-document
// failures are recorded on the run and skipped, not fatal.
func (c *Coordinator) mapDocuments(ctx context.Context, s schema.Schema, src schema.SourceMapping, docs []any, kbID, sourceID, runID string) ([]mapping.Result, error) {
	ctx, mapSpan := tracer.Start(ctx, "ingest.map", trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer mapSpan.End()

	results := make([]mapping.Result, 0, len(docs))
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return nil, kgerrors.Op("ingest.map", kgerrors.ErrCancelled)
		default:
		}
		res, err := mapping.Map(s, src, doc, mapping.RunContext{KBID: kbID, SourceID: sourceID, RunID: runID})
		if err != nil {
			if rerr := c.tracker.RecordError(ctx, kbID, sourceID, runID, err.Error()); rerr != nil {
				c.log.Error("ingest failed to record document error", logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID})
			}
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

type chunkSlot struct {
	docIdx, opIdx int
}

// embedChunks batches every chunk text produced across all documents into
// one call per provider and writes the resulting vectors back onto each
// document's chunk ops in place.
func (c *Coordinator) embedChunks(ctx context.Context, s schema.Schema, docResults []mapping.Result) error {
	if s.Embedding.ProviderID == "" {
		return nil
	}
	ctx, embedSpan := tracer.Start(ctx, "ingest.embed")
	defer embedSpan.End()

	var texts []string
	var slots []chunkSlot
	for di, res := range docResults {
		for oi, op := range res.Chunks {
			for range op.Texts {
				slots = append(slots, chunkSlot{docIdx: di, opIdx: oi})
			}
			texts = append(texts, op.Texts...)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := c.embedder.Embed(ctx, s.Embedding.ProviderID, texts, 0)
	if err != nil {
		return kgerrors.Op("ingest.embed", fmt.Errorf("%w: %v", kgerrors.ErrEmbeddingUnavailable, err))
	}

	chunkIdx := make(map[chunkSlot]int)
	for i, slot := range slots {
		op := &docResults[slot.docIdx].Chunks[slot.opIdx]
		if op.Vectors == nil {
			op.Vectors = make([][]float32, len(op.Texts))
		}
		op.Vectors[chunkIdx[slot]] = vectors[i]
		chunkIdx[slot]++
	}
	return nil
}

// writeAll applies every document's ops with bounded parallelism: within a
// document, node upserts precede edge upserts, and replace_chunks happens
// after the owning node is upserted.
func (c *Coordinator) writeAll(ctx context.Context, kbID, sourceID, runID string, docResults []mapping.Result) (totalNodes, totalEdges int64, err error) {
	ctx, writeSpan := tracer.Start(ctx, "ingest.write", trace.WithAttributes(attribute.Int("documents", len(docResults))))
	defer writeSpan.End()

	p := c.cfg.MaxParallelWrites
	if p <= 0 {
		p = 8
	}
	sem := semaphore.NewWeighted(int64(p))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var acquireErr error
	for _, res := range docResults {
		res := res
		if acqErr := sem.Acquire(ctx, 1); acqErr != nil {
			acquireErr = kgerrors.Op("ingest.write", fmt.Errorf("%w: %v", kgerrors.ErrCancelled, acqErr))
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			nodes, edges, err := c.writeDocument(gctx, kbID, sourceID, runID, res)
			if err != nil {
				return err
			}
			mu.Lock()
			totalNodes += nodes
			totalEdges += edges
			mu.Unlock()
			return c.tracker.RecordDocument(gctx, kbID, sourceID, runID, nodes, edges)
		})
	}
	if err = g.Wait(); err == nil {
		err = acquireErr
	}
	return totalNodes, totalEdges, err
}

func (c *Coordinator) writeDocument(ctx context.Context, kbID, sourceID, runID string, res mapping.Result) (nodes int64, edges int64, err error) {
	prov := graphstore.Provenance{KBID: kbID, SourceID: sourceID, UpdatedAt: time.Now(), RunID: runID}

	for _, n := range res.Nodes {
		if err := c.store.UpsertNode(ctx, n.Identity, n.Properties, prov); err != nil {
			return nodes, edges, kgerrors.Op("ingest.write", err)
		}
		nodes++
	}
	for _, e := range res.Edges {
		if err := c.store.UpsertEdge(ctx, e.Identity, e.Properties, prov); err != nil {
			return nodes, edges, kgerrors.Op("ingest.write", err)
		}
		edges++
	}
	for _, ch := range res.Chunks {
		chunks := make([]graphstore.Chunk, len(ch.Texts))
		for i, text := range ch.Texts {
			var vec []float32
			if i < len(ch.Vectors) {
				vec = ch.Vectors[i]
			}
			chunks[i] = graphstore.Chunk{Text: text, Vector: vec, ChunkIndex: i}
		}
		if err := c.store.ReplaceChunks(ctx, ch.Node, chunks, prov); err != nil {
			return nodes, edges, kgerrors.Op("ingest.write", err)
		}
	}
	return nodes, edges, nil
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, kbID, sourceID, runID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if cerr := c.tracker.Complete(ctx, kbID, sourceID, runID, runtracker.StatusFailed, err, time.Now()); cerr != nil {
		c.log.Error("ingest run failed to record failure", logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID})
	}
	c.publish(ctx, kbID, sourceID, runID, runtracker.StatusFailed, err, 0, 0, 0)
	c.log.Error("ingest run failed", logging.Fields{"kb_id": kbID, "source_id": sourceID, "run_id": runID, "error": err.Error()})
}

func migrationSpecFor(s schema.Schema) graphstore.MigrationSpec {
	spec := graphstore.MigrationSpec{KBID: s.KBID}
	embeddedLabels := make(map[string]bool)
	for _, src := range s.Mappings.Sources {
		if s.Embedding.ProviderID != "" {
			embeddedLabels[src.Extract.Node] = true
		}
	}
	for _, n := range s.Nodes {
		spec.Constraints = append(spec.Constraints, graphstore.NodeConstraint{
			Label:            n.Label,
			KeyProperty:      n.KeyProperty,
			EmbeddedLabel:    embeddedLabels[n.Label],
			EmbeddingVersion: s.Embedding.ProviderID,
		})
	}
	return spec
}
