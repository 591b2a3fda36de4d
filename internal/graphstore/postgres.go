package graphstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"knowgraph/internal/kgerrors"
)

const ddlCore = `
CREATE TABLE IF NOT EXISTS kg_nodes (
    kb_id       TEXT        NOT NULL,
    label       TEXT        NOT NULL,
    key_value   TEXT        NOT NULL,
    properties  JSONB       NOT NULL DEFAULT '{}'::jsonb,
    source_id   TEXT        NOT NULL,
    run_id      TEXT        NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (kb_id, label, key_value)
);

CREATE TABLE IF NOT EXISTS kg_edges (
    kb_id       TEXT        NOT NULL,
    type        TEXT        NOT NULL,
    from_label  TEXT        NOT NULL,
    from_key    TEXT        NOT NULL,
    to_label    TEXT        NOT NULL,
    to_key      TEXT        NOT NULL,
    properties  JSONB       NOT NULL DEFAULT '{}'::jsonb,
    source_id   TEXT        NOT NULL,
    run_id      TEXT        NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (kb_id, type, from_label, from_key, to_label, to_key)
);

CREATE INDEX IF NOT EXISTS idx_kg_edges_from ON kg_edges (kb_id, from_label, from_key);
CREATE INDEX IF NOT EXISTS idx_kg_edges_to   ON kg_edges (kb_id, to_label, to_key);

CREATE TABLE IF NOT EXISTS kg_chunks (
    id           BIGSERIAL   PRIMARY KEY,
    kb_id        TEXT        NOT NULL,
    node_label   TEXT        NOT NULL,
    node_key     TEXT        NOT NULL,
    chunk_index  INT         NOT NULL,
    text         TEXT        NOT NULL,
    vector       vector,
    source_id    TEXT        NOT NULL,
    run_id       TEXT        NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kg_chunks_node ON kg_chunks (kb_id, node_label, node_key);

CREATE TABLE IF NOT EXISTS kg_vector_index_registry (
    kb_id       TEXT        NOT NULL,
    label       TEXT        NOT NULL,
    dim         INT         NOT NULL,
    provider_id TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (kb_id, label, provider_id)
);
`

// Postgres is the default Graph Store Adapter backend: nodes, edges, and
// chunk vectors all live in one Postgres database via pgx/v5. The chunk
// vector column is an unsized pgvector `vector`; similarity search orders by
// the `<=>` operator with a sequential scan, matching the store's other
// low-volume tables rather than provisioning a fixed-dimension ANN index per
// KB (a dimension change would otherwise strand the old HNSW index).
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPostgres wraps an existing pool. timeout bounds every store operation
// below (default 15s when zero); each method derives its own
// context.WithTimeout from the caller's ctx rather than relying on the pool's
// own defaults, so a stalled query can't block a run indefinitely. Call
// EnsureSchema once at startup to create the core tables (the per-KB
// EnsureKB call only tracks constraint bookkeeping after that).
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Postgres{pool: pool, timeout: timeout, ensured: make(map[string]bool)}
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// EnsureSchema creates the shared tables backing every KB. Idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("graphstore: create vector extension: %w", err)
	}
	if _, err := p.pool.Exec(ctx, ddlCore); err != nil {
		return fmt.Errorf("graphstore: migrate core schema: %w", err)
	}
	return nil
}

// EnsureKB provisions per-KB bookkeeping: node/edge uniqueness is already
// enforced by kg_nodes/kg_edges' composite primary keys, so this call
// records which (kb_id, label, provider_id, dim) vector-index slots
// have been provisioned. A later call with a new provider_id for the same
// label adds a new registry row rather than mutating the old one, matching
// "the old index is not dropped"; a repeat call with the same provider_id
// leaves the existing row, and its dim, unchanged. Safe for concurrent callers on the same
// kb_id: an internal mutex serializes the first call per KB.
func (p *Postgres) EnsureKB(ctx context.Context, spec MigrationSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, c := range spec.Constraints {
		if !c.EmbeddedLabel {
			continue
		}
		err := func() error {
			cctx, cancel := p.withTimeout(ctx)
			defer cancel()
			_, err := p.pool.Exec(cctx, `
INSERT INTO kg_vector_index_registry (kb_id, label, dim, provider_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (kb_id, label, provider_id) DO NOTHING
`, spec.KBID, c.Label, c.EmbeddingDim, c.EmbeddingVersion)
			return err
		}()
		if err != nil {
			return kgerrors.Op("graphstore.EnsureKB", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
		}
	}
	p.ensured[spec.KBID] = true
	return nil
}

func (p *Postgres) UpsertNode(ctx context.Context, identity Identity, properties map[string]any, prov Provenance) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if properties == nil {
		properties = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO kg_nodes (kb_id, label, key_value, properties, source_id, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (kb_id, label, key_value) DO UPDATE SET
    properties = kg_nodes.properties || EXCLUDED.properties,
    source_id  = EXCLUDED.source_id,
    run_id     = EXCLUDED.run_id,
    updated_at = EXCLUDED.updated_at
`, identity.KBID, identity.Label, identity.KeyValue, properties, prov.SourceID, prov.RunID, prov.UpdatedAt)
	if err != nil {
		return kgerrors.Op("graphstore.UpsertNode", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

func (p *Postgres) UpsertEdge(ctx context.Context, identity EdgeIdentity, properties map[string]any, prov Provenance) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if properties == nil {
		properties = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO kg_edges (kb_id, type, from_label, from_key, to_label, to_key, properties, source_id, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (kb_id, type, from_label, from_key, to_label, to_key) DO UPDATE SET
    properties = kg_edges.properties || EXCLUDED.properties,
    source_id  = EXCLUDED.source_id,
    run_id     = EXCLUDED.run_id,
    updated_at = EXCLUDED.updated_at
`, identity.KBID, identity.Type, identity.From.Label, identity.From.KeyValue, identity.To.Label, identity.To.KeyValue,
		properties, prov.SourceID, prov.RunID, prov.UpdatedAt)
	if err != nil {
		return kgerrors.Op("graphstore.UpsertEdge", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

func (p *Postgres) ReplaceChunks(ctx context.Context, node Identity, chunks []Chunk, prov Provenance) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM kg_chunks WHERE kb_id=$1 AND node_label=$2 AND node_key=$3`,
		node.KBID, node.Label, node.KeyValue); err != nil {
		return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	for _, c := range chunks {
		vec := pgvector.NewVector(c.Vector)
		if _, err := tx.Exec(ctx, `
INSERT INTO kg_chunks (kb_id, node_label, node_key, chunk_index, text, vector, source_id, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, node.KBID, node.Label, node.KeyValue, c.ChunkIndex, c.Text, vec, prov.SourceID, prov.RunID, prov.UpdatedAt); err != nil {
			return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return kgerrors.Op("graphstore.ReplaceChunks", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

func (p *Postgres) VectorSearch(ctx context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(query)
	args := []any{kbID, vec}
	where := "kb_id = $1"
	if labelFilter != "" {
		where += " AND node_label = $3"
		args = append(args, labelFilter)
	}
	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))
	q := fmt.Sprintf(`
SELECT node_label, node_key, text, 1 - (vector <=> $2) AS score
FROM kg_chunks
WHERE %s
ORDER BY vector <=> $2, node_label, node_key
LIMIT %s
`, where, limitArg)

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Op("graphstore.VectorSearch", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	hits := make([]VectorHit, 0, topK)
	for rows.Next() {
		var label, key, snippet string
		var score float64
		if err := rows.Scan(&label, &key, &snippet, &score); err != nil {
			return nil, kgerrors.Op("graphstore.VectorSearch", err)
		}
		hits = append(hits, VectorHit{
			NodeIdentity: Identity{KBID: kbID, Label: label, KeyValue: key},
			Score:        score,
			Snippet:      snippet,
		})
	}
	return hits, rows.Err()
}

// GraphQuery executes params-bound SQL against kg_nodes/kg_edges. query_text
// is expected to be a SELECT against those two tables; this adapter rewrites
// it to scope every reference to kb_id by wrapping it as a CTE that already
// filters by kb_id, and refuses anything containing a write keyword.
func (p *Postgres) GraphQuery(ctx context.Context, kbID string, queryText string, params map[string]any) ([]map[string]any, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if isWriteQuery(queryText) {
		return nil, kgerrors.Op("graphstore.GraphQuery", kgerrors.ErrQueryNotReadOnly)
	}
	scoped := fmt.Sprintf(`
WITH nodes AS (SELECT * FROM kg_nodes WHERE kb_id = $1),
     edges AS (SELECT * FROM kg_edges WHERE kb_id = $1)
%s`, queryText)

	args := []any{kbID}
	for _, v := range sortedParamValues(params) {
		args = append(args, v)
	}
	rows, err := p.pool.Query(ctx, scoped, args...)
	if err != nil {
		return nil, kgerrors.Op("graphstore.GraphQuery", fmt.Errorf("%w: %v", kgerrors.ErrQueryInvalid, err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, kgerrors.Op("graphstore.GraphQuery", err)
		}
		row := make(map[string]any, len(vals))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) Count(ctx context.Context, kbID string) (Counts, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var c Counts
	row := p.pool.QueryRow(ctx, `SELECT count(*) FROM kg_nodes WHERE kb_id=$1`, kbID)
	if err := row.Scan(&c.Nodes); err != nil {
		return Counts{}, kgerrors.Op("graphstore.Count", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	row = p.pool.QueryRow(ctx, `SELECT count(*) FROM kg_edges WHERE kb_id=$1`, kbID)
	if err := row.Scan(&c.Relationships); err != nil {
		return Counts{}, kgerrors.Op("graphstore.Count", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return c, nil
}

func (p *Postgres) GetNode(ctx context.Context, identity Identity) (Node, bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	row := p.pool.QueryRow(ctx, `
SELECT properties, source_id, run_id, updated_at FROM kg_nodes
WHERE kb_id=$1 AND label=$2 AND key_value=$3
`, identity.KBID, identity.Label, identity.KeyValue)
	var n Node
	n.Identity = identity
	var prov Provenance
	if err := row.Scan(&n.Properties, &prov.SourceID, &prov.RunID, &prov.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Node{}, false, nil
		}
		return Node{}, false, kgerrors.Op("graphstore.GetNode", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	prov.KBID = identity.KBID
	n.Provenance = prov
	return n, true, nil
}

func (p *Postgres) Close() { p.pool.Close() }

var writeKeywordRe = regexp.MustCompile(`\b(?:INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|MERGE)\b`)

func isWriteQuery(q string) bool {
	return writeKeywordRe.MatchString(strings.ToUpper(q))
}

func sortedParamValues(params map[string]any) []any {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, params[k])
	}
	return out
}
