package graphstore

import "context"

// NodeConstraint describes one node label's key property and, if the label
// owns chunks, the embedding dimension to size its vector index for.
type NodeConstraint struct {
	Label            string
	KeyProperty      string
	EmbeddedLabel    bool
	EmbeddingDim     int
	EmbeddingVersion string // provider id; a dimension change bumps this
}

// MigrationSpec is the subset of a knowledge base's schema the migration
// runner needs to provision constraints and vector indexes.
type MigrationSpec struct {
	KBID        string
	Constraints []NodeConstraint
}

// GraphDB is the graph store adapter plus the migration runner it owns.
// Every method is scoped to the kb_id embedded in its arguments.
type GraphDB interface {
	// EnsureKB provisions constraints and vector indexes for kb if absent.
	// Idempotent and safe to call concurrently for the same kb_id.
	EnsureKB(ctx context.Context, spec MigrationSpec) error

	// UpsertNode merges on (kb_id, label, key_value). On conflict, properties
	// and provenance are updated (last-writer-wins per property); a property
	// absent from this call never erases a previously-set value.
	UpsertNode(ctx context.Context, identity Identity, properties map[string]any, prov Provenance) error

	// UpsertEdge merges on (kb_id, type, from_identity, to_identity).
	UpsertEdge(ctx context.Context, identity EdgeIdentity, properties map[string]any, prov Provenance) error

	// ReplaceChunks atomically deletes all existing chunks for node and
	// inserts chunks, stamped with prov. A no-op if both the existing and new
	// sets are empty.
	ReplaceChunks(ctx context.Context, node Identity, chunks []Chunk, prov Provenance) error

	// VectorSearch returns at most topK chunk hits, nearest first, resolved
	// back to their owning node. Ties break on node identity ordering.
	VectorSearch(ctx context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error)

	// GraphQuery executes a parameterized read-only query rewritten to scope
	// every pattern to kb_id. Returns ErrQueryNotReadOnly for write attempts.
	GraphQuery(ctx context.Context, kbID string, queryText string, params map[string]any) ([]map[string]any, error)

	// Count reports node/relationship totals for kb_id.
	Count(ctx context.Context, kbID string) (Counts, error)

	// GetNode resolves one node by identity, for snippet/property resolution.
	GetNode(ctx context.Context, identity Identity) (Node, bool, error)

	Close()
}
