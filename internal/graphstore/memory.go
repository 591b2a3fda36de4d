package graphstore

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"knowgraph/internal/kgerrors"
)

type memChunk struct {
	Chunk
	sourceID, runID string
}

// Memory is an in-process GraphDB fake for unit tests. It mirrors the
// merge/provenance semantics of Postgres without a database dependency.
type Memory struct {
	mu     sync.RWMutex
	nodes  map[Identity]Node
	edges  map[EdgeIdentity]Edge
	chunks map[Identity][]memChunk
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		nodes:  make(map[Identity]Node),
		edges:  make(map[EdgeIdentity]Edge),
		chunks: make(map[Identity][]memChunk),
	}
}

func (m *Memory) EnsureKB(context.Context, MigrationSpec) error { return nil }

func (m *Memory) UpsertNode(_ context.Context, identity Identity, properties map[string]any, prov Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.nodes[identity]
	merged := map[string]any{}
	if ok {
		for k, v := range existing.Properties {
			merged[k] = v
		}
	}
	for k, v := range properties {
		merged[k] = v
	}
	m.nodes[identity] = Node{Identity: identity, Properties: merged, Provenance: prov}
	return nil
}

func (m *Memory) UpsertEdge(_ context.Context, identity EdgeIdentity, properties map[string]any, prov Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.edges[identity]
	merged := map[string]any{}
	if ok {
		for k, v := range existing.Properties {
			merged[k] = v
		}
	}
	for k, v := range properties {
		merged[k] = v
	}
	m.edges[identity] = Edge{Identity: identity, Properties: merged, Provenance: prov}
	return nil
}

func (m *Memory) ReplaceChunks(_ context.Context, node Identity, chunks []Chunk, prov Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) == 0 && len(m.chunks[node]) == 0 {
		return nil
	}
	out := make([]memChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, memChunk{Chunk: c, sourceID: prov.SourceID, runID: prov.RunID})
	}
	m.chunks[node] = out
	return nil
}

func (m *Memory) VectorSearch(_ context.Context, kbID string, query []float32, topK int, labelFilter string) ([]VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 {
		topK = 10
	}
	qn := normF(query)
	var hits []VectorHit
	for node, cs := range m.chunks {
		if node.KBID != kbID {
			continue
		}
		if labelFilter != "" && node.Label != labelFilter {
			continue
		}
		for _, c := range cs {
			hits = append(hits, VectorHit{
				NodeIdentity: node,
				Score:        cosineF(query, c.Vector, qn),
				Snippet:      c.Text,
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].NodeIdentity.Label != hits[j].NodeIdentity.Label {
			return hits[i].NodeIdentity.Label < hits[j].NodeIdentity.Label
		}
		return hits[i].NodeIdentity.KeyValue < hits[j].NodeIdentity.KeyValue
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

var memQueryRe = regexp.MustCompile(`(?i)^\s*SELECT\s+\*\s+FROM\s+(nodes|edges)\s*(?:WHERE\s+(\w+)\s*=\s*\$(\w+))?\s*$`)

// GraphQuery supports a minimal read-only pattern against the in-memory
// tables: "SELECT * FROM nodes|edges [WHERE <field> = $<param>]". It exists
// so graph_query's kb_id scoping and read-only enforcement are exercisable
// without a live Postgres instance; anything outside that pattern (including
// the graph-pattern syntax Postgres's GraphQuery doesn't speak either)
// reports ErrQueryInvalid.
func (m *Memory) GraphQuery(_ context.Context, kbID string, queryText string, params map[string]any) ([]map[string]any, error) {
	if isWriteQuery(queryText) {
		return nil, kgerrors.Op("graphstore.GraphQuery", kgerrors.ErrQueryNotReadOnly)
	}
	match := memQueryRe.FindStringSubmatch(queryText)
	if match == nil {
		return nil, kgerrors.Op("graphstore.GraphQuery", kgerrors.ErrQueryInvalid)
	}
	table, field, param := strings.ToLower(match[1]), match[2], match[3]

	m.mu.RLock()
	defer m.mu.RUnlock()

	var want any
	if field != "" {
		var ok bool
		want, ok = params[param]
		if !ok {
			return nil, kgerrors.Op("graphstore.GraphQuery", fmt.Errorf("%w: missing param %q", kgerrors.ErrQueryInvalid, param))
		}
	}

	var out []map[string]any
	switch table {
	case "nodes":
		for id, n := range m.nodes {
			if id.KBID != kbID {
				continue
			}
			if field != "" && !matchesField(field, want, map[string]any{"label": id.Label, "key_value": id.KeyValue}) {
				continue
			}
			out = append(out, map[string]any{"label": id.Label, "key_value": id.KeyValue, "properties": n.Properties})
		}
	case "edges":
		for id, e := range m.edges {
			if id.KBID != kbID {
				continue
			}
			row := map[string]any{
				"type": id.Type, "from_label": id.From.Label, "from_key": id.From.KeyValue,
				"to_label": id.To.Label, "to_key": id.To.KeyValue, "properties": e.Properties,
			}
			if field != "" && !matchesField(field, want, row) {
				continue
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func matchesField(field string, want any, row map[string]any) bool {
	v, ok := row[field]
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want)
}

func (m *Memory) Count(_ context.Context, kbID string) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for id := range m.nodes {
		if id.KBID == kbID {
			c.Nodes++
		}
	}
	for id := range m.edges {
		if id.KBID == kbID {
			c.Relationships++
		}
	}
	return c, nil
}

func (m *Memory) GetNode(_ context.Context, identity Identity) (Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[identity]
	return n, ok, nil
}

// Neighbors returns the identities reachable from from via an edge of type
// rel, sorted for deterministic test assertions.
func (m *Memory) Neighbors(from Identity, rel string) []Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Identity
	for id := range m.edges {
		if id.From == from && id.Type == rel {
			out = append(out, id.To)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].KeyValue < out[j].KeyValue
	})
	return out
}

func (m *Memory) Close() {}

func normF(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosineF(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = normF(a)
	}
	bnorm := normF(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
