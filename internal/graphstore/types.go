// Package graphstore wraps the property-graph database that backs every
// knowledge base: nodes, edges, chunk vectors, and run records. All
// operations are KB-scoped; callers never see another tenant's rows.
package graphstore

import "time"

// Provenance is the quadruple attached to every node, edge, and chunk.
type Provenance struct {
	KBID      string
	SourceID  string
	RunID     string
	UpdatedAt time.Time
}

// Identity is a node's merge key: (kb_id, label, key_value).
type Identity struct {
	KBID     string
	Label    string
	KeyValue string
}

// Node is one materialized graph node.
type Node struct {
	Identity   Identity
	Properties map[string]any
	Provenance Provenance
}

// EdgeIdentity is an edge's merge key: (kb_id, type, from, to).
type EdgeIdentity struct {
	KBID string
	Type string
	From Identity
	To   Identity
}

// Edge is one materialized graph edge.
type Edge struct {
	Identity   EdgeIdentity
	Properties map[string]any
	Provenance Provenance
}

// Chunk is one embedded text span owned by a node.
type Chunk struct {
	Text       string
	Vector     []float32
	ChunkIndex int
}

// VectorHit is one result of a vector_search call, resolved back to its
// owning node.
type VectorHit struct {
	NodeIdentity Identity
	Score        float64
	Snippet      string
}

// Counts is the result of a count(kb_id) call.
type Counts struct {
	Nodes         int64
	Relationships int64
}
