package schema

import (
	"fmt"
	"strings"

	"knowgraph/internal/kgerrors"
	"knowgraph/internal/pathexpr"
)

// piiHeuristics flags property and path-expression names likely to carry
// sensitive data. Matching one never fails validation, only warns.
var piiHeuristics = []string{"ssn", "password", "token", "email", "secret", "credit_card", "dob", "phone"}

// Validate checks s against every structural and semantic invariant a
// schema must satisfy and returns soft warnings for PII-heuristic property
// names. It returns kgerrors.ErrSchemaInvalid (wrapped with detail) on the
// first violation found.
func Validate(s Schema) (warnings []string, err error) {
	if strings.TrimSpace(s.KBID) == "" {
		return nil, invalid("kb_id must not be empty")
	}

	labels := make(map[string]NodeDecl, len(s.Nodes))
	for _, n := range s.Nodes {
		if strings.TrimSpace(n.Label) == "" {
			return nil, invalid("node declaration has empty label")
		}
		if _, dup := labels[n.Label]; dup {
			return nil, invalid(fmt.Sprintf("duplicate node label %q", n.Label))
		}
		if strings.TrimSpace(n.KeyProperty) == "" {
			return nil, invalid(fmt.Sprintf("node %q: key_property is required", n.Label))
		}
		if !n.HasProp(n.KeyProperty) {
			return nil, invalid(fmt.Sprintf("node %q: key_property %q must appear in props", n.Label, n.KeyProperty))
		}
		labels[n.Label] = n
	}

	for _, r := range s.Relationships {
		if strings.TrimSpace(r.Type) == "" {
			return nil, invalid("relationship declaration has empty type")
		}
		if _, ok := labels[r.FromLabel]; !ok {
			return nil, invalid(fmt.Sprintf("relationship %q: from_label %q not declared in nodes", r.Type, r.FromLabel))
		}
		if _, ok := labels[r.ToLabel]; !ok {
			return nil, invalid(fmt.Sprintf("relationship %q: to_label %q not declared in nodes", r.Type, r.ToLabel))
		}
	}

	sourceIDs := make(map[string]bool, len(s.Mappings.Sources))
	for _, src := range s.Mappings.Sources {
		if strings.TrimSpace(src.SourceID) == "" {
			return nil, invalid("source mapping has empty source_id")
		}
		if sourceIDs[src.SourceID] {
			return nil, invalid(fmt.Sprintf("source_id %q is not unique within this KB", src.SourceID))
		}
		sourceIDs[src.SourceID] = true

		node, ok := labels[src.Extract.Node]
		if !ok {
			return nil, invalid(fmt.Sprintf("source %q: extract.node %q not declared in nodes", src.SourceID, src.Extract.Node))
		}
		if err := pathexpr.Validate(src.Extract.Key); err != nil {
			return nil, invalid(fmt.Sprintf("source %q: extract.key: %v", src.SourceID, err))
		}
		if w := warnIfPII(src.Extract.Key); w != "" {
			warnings = append(warnings, w)
		}
		for _, a := range src.Extract.Assign {
			if !node.HasProp(a.Property) {
				return nil, invalid(fmt.Sprintf("source %q: assigned property %q not declared on node %q", src.SourceID, a.Property, node.Label))
			}
			if err := pathexpr.Validate(a.Path); err != nil {
				return nil, invalid(fmt.Sprintf("source %q: assign %q: %v", src.SourceID, a.Property, err))
			}
			if w := warnIfPII(a.Property); w != "" {
				warnings = append(warnings, w)
			}
		}

		for _, e := range src.Edges {
			if strings.TrimSpace(e.Type) == "" {
				return nil, invalid(fmt.Sprintf("source %q: edge declaration has empty type", src.SourceID))
			}
			fromNode, ok := labels[e.From.Label]
			if !ok {
				return nil, invalid(fmt.Sprintf("source %q: edge %q: from label %q not declared", src.SourceID, e.Type, e.From.Label))
			}
			toNode, ok := labels[e.To.Label]
			if !ok {
				return nil, invalid(fmt.Sprintf("source %q: edge %q: to label %q not declared", src.SourceID, e.Type, e.To.Label))
			}
			if err := pathexpr.Validate(e.From.Key); err != nil {
				return nil, invalid(fmt.Sprintf("source %q: edge %q: from.key: %v", src.SourceID, e.Type, err))
			}
			if err := pathexpr.Validate(e.To.Key); err != nil {
				return nil, invalid(fmt.Sprintf("source %q: edge %q: to.key: %v", src.SourceID, e.Type, err))
			}
			for _, p := range e.From.Props {
				if !fromNode.HasProp(p.Property) {
					return nil, invalid(fmt.Sprintf("source %q: edge %q: from.props %q not declared on node %q", src.SourceID, e.Type, p.Property, fromNode.Label))
				}
				if err := pathexpr.Validate(p.Path); err != nil {
					return nil, invalid(fmt.Sprintf("source %q: edge %q: from.props %q: %v", src.SourceID, e.Type, p.Property, err))
				}
				if w := warnIfPII(p.Property); w != "" {
					warnings = append(warnings, w)
				}
			}
			for _, p := range e.To.Props {
				if !toNode.HasProp(p.Property) {
					return nil, invalid(fmt.Sprintf("source %q: edge %q: to.props %q not declared on node %q", src.SourceID, e.Type, p.Property, toNode.Label))
				}
				if err := pathexpr.Validate(p.Path); err != nil {
					return nil, invalid(fmt.Sprintf("source %q: edge %q: to.props %q: %v", src.SourceID, e.Type, p.Property, err))
				}
				if w := warnIfPII(p.Property); w != "" {
					warnings = append(warnings, w)
				}
			}
		}
	}

	return warnings, nil
}

func invalid(msg string) error {
	return kgerrors.Op("schema.Validate", fmt.Errorf("%w: %s", kgerrors.ErrSchemaInvalid, msg))
}

func warnIfPII(name string) string {
	lower := strings.ToLower(name)
	for _, h := range piiHeuristics {
		if strings.Contains(lower, h) {
			return fmt.Sprintf("property %q looks like it may hold sensitive data (matched heuristic %q)", name, h)
		}
	}
	return ""
}
