// Package schema implements the schema registry: validation and storage of
// declarative per-knowledge-base schemas.
package schema

// Embedding describes how a node's text is chunked and embedded.
type Embedding struct {
	ProviderID       string         `yaml:"provider_id" json:"provider_id"`
	ChunkingStrategy string         `yaml:"chunking_strategy" json:"chunking_strategy"`
	ChunkingParams   map[string]any `yaml:"chunking_params" json:"chunking_params"`
}

// NodeDecl declares one node label, its natural key, and its allowed
// property set.
type NodeDecl struct {
	Label       string   `yaml:"label" json:"label"`
	KeyProperty string   `yaml:"key_property" json:"key_property"`
	Props       []string `yaml:"props" json:"props"`
}

// HasProp reports whether name is a declared property of this node.
func (n NodeDecl) HasProp(name string) bool {
	for _, p := range n.Props {
		if p == name {
			return true
		}
	}
	return false
}

// RelationshipDecl declares one relationship type between two node labels.
type RelationshipDecl struct {
	Type      string `yaml:"type" json:"type"`
	FromLabel string `yaml:"from_label" json:"from_label"`
	ToLabel   string `yaml:"to_label" json:"to_label"`
}

// PropAssign is one path→property assignment.
type PropAssign struct {
	Property string `yaml:"property" json:"property"`
	Path     string `yaml:"path" json:"path"`
}

// Extract describes the node a source document maps to.
type Extract struct {
	Node   string       `yaml:"node" json:"node"`
	Key    string       `yaml:"key" json:"key"` // path expression resolving key_value
	Assign []PropAssign `yaml:"assign" json:"assign"`
}

// EdgeEndpoint describes one side of a mapped edge: the node label it
// targets, the path resolving its key, and optional extra properties to
// assign on that endpoint node.
type EdgeEndpoint struct {
	Label string       `yaml:"label" json:"label"`
	Key   string       `yaml:"key" json:"key"`
	Props []PropAssign `yaml:"props" json:"props"`
}

// EdgeMapping describes one relationship a source document may emit.
type EdgeMapping struct {
	Type string       `yaml:"type" json:"type"`
	From EdgeEndpoint `yaml:"from" json:"from"`
	To   EdgeEndpoint `yaml:"to" json:"to"`
}

// SourceMapping is one source's extraction recipe.
type SourceMapping struct {
	SourceID     string        `yaml:"source_id" json:"source_id"`
	ConnectorURL string        `yaml:"connector_url" json:"connector_url"`
	DocumentType string        `yaml:"document_type" json:"document_type"`
	Extract      Extract       `yaml:"extract" json:"extract"`
	Edges        []EdgeMapping `yaml:"edges" json:"edges"`
}

// Mappings is the per-KB set of source mappings.
type Mappings struct {
	Sources []SourceMapping `yaml:"sources" json:"sources"`
}

// Schema is the full per-KB descriptor.
type Schema struct {
	KBID          string             `yaml:"kb_id" json:"kb_id"`
	Embedding     Embedding          `yaml:"embedding" json:"embedding"`
	Nodes         []NodeDecl         `yaml:"nodes" json:"nodes"`
	Relationships []RelationshipDecl `yaml:"relationships" json:"relationships"`
	Mappings      Mappings           `yaml:"mappings" json:"mappings"`
}

// NodeByLabel returns the node declaration for label, if any.
func (s Schema) NodeByLabel(label string) (NodeDecl, bool) {
	for _, n := range s.Nodes {
		if n.Label == label {
			return n, true
		}
	}
	return NodeDecl{}, false
}

// SourceByID returns the mapping for source_id, if any.
func (s Schema) SourceByID(sourceID string) (SourceMapping, bool) {
	for _, src := range s.Mappings.Sources {
		if src.SourceID == sourceID {
			return src, true
		}
	}
	return SourceMapping{}, false
}
