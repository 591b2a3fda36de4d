// Package mapping implements the mapping engine: a pure
// function from (schema, source mapping, document, run context) to a
// deterministic batch of node/edge/chunk operations. It never talks to the
// graph store or the embedder.
package mapping

import "knowgraph/internal/graphstore"

// RunContext identifies the run whose provenance every emitted op will be
// stamped with once the Ingestion Coordinator applies it (mapping itself
// stays pure and never decides a timestamp).
type RunContext struct {
	KBID     string
	SourceID string
	RunID    string
}

// NodeUpsertOp requests a node merge.
type NodeUpsertOp struct {
	Identity   graphstore.Identity
	Properties map[string]any
}

// EdgeUpsertOp requests an edge merge.
type EdgeUpsertOp struct {
	Identity   graphstore.EdgeIdentity
	Properties map[string]any
}

// ChunkReplaceOp requests a node's chunk set be replaced wholesale. Vectors
// is left nil; the Ingestion Coordinator fills it in, one vector per Texts
// entry in order, after calling the Embedding Provider.
type ChunkReplaceOp struct {
	Node    graphstore.Identity
	Texts   []string
	Vectors [][]float32
}

// Warning is a non-fatal mapping issue (e.g. an edge skipped because its
// from-key resolved to no value). Map returns warnings in Result.Warnings;
// the ingestion coordinator does not record them on the run.
type Warning struct {
	Message string
}

// Result is everything one document's mapping produced.
type Result struct {
	Nodes    []NodeUpsertOp
	Edges    []EdgeUpsertOp
	Chunks   []ChunkReplaceOp
	Warnings []Warning
}
