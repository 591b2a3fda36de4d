package mapping

import (
	"fmt"

	"knowgraph/internal/graphstore"
	"knowgraph/internal/kgerrors"
	"knowgraph/internal/pathexpr"
	"knowgraph/internal/schema"
)

// Map evaluates src against document under run and returns the ops it
// produces. document must already be decoded JSON (map[string]any/[]any/
// scalars); Map does not normalize document_type=="html" content (see
// NormalizeHTML). Every returned error wraps kgerrors.ErrDocumentMapping
// so a run can classify it as a per-document mapping failure rather than a
// fatal run error.
func Map(s schema.Schema, src schema.SourceMapping, document any, run RunContext) (Result, error) {
	var res Result

	nodeDecl, ok := s.NodeByLabel(src.Extract.Node)
	if !ok {
		return Result{}, mapErr(fmt.Errorf("node %q not declared in schema", src.Extract.Node))
	}

	keyExpr, err := pathexpr.Parse(src.Extract.Key)
	if err != nil {
		return Result{}, mapErr(err)
	}
	keyValue, ok := keyExpr.EvalScalar(document)
	if !ok || toString(keyValue) == "" {
		return Result{}, mapErr(fmt.Errorf("extract.key %q resolved to no value", src.Extract.Key))
	}
	identity := graphstore.Identity{KBID: run.KBID, Label: src.Extract.Node, KeyValue: toString(keyValue)}

	props, err := resolveAssignments(src.Extract.Assign, document)
	if err != nil {
		return Result{}, mapErr(err)
	}
	res.Nodes = append(res.Nodes, NodeUpsertOp{Identity: identity, Properties: props})

	for _, e := range src.Edges {
		fromExpr, err := pathexpr.Parse(e.From.Key)
		if err != nil {
			return Result{}, mapErr(err)
		}
		fromKey, ok := fromExpr.EvalScalar(document)
		if !ok || toString(fromKey) == "" {
			res.Warnings = append(res.Warnings, Warning{Message: fmt.Sprintf("edge %q: from.key %q resolved to no value, skipped", e.Type, e.From.Key)})
			continue
		}
		fromProps, err := resolveAssignments(e.From.Props, document)
		if err != nil {
			return Result{}, mapErr(err)
		}
		fromIdentity := graphstore.Identity{KBID: run.KBID, Label: e.From.Label, KeyValue: toString(fromKey)}
		res.Nodes = append(res.Nodes, NodeUpsertOp{Identity: fromIdentity, Properties: fromProps})

		toExpr, err := pathexpr.Parse(e.To.Key)
		if err != nil {
			return Result{}, mapErr(err)
		}
		toValues := toExpr.EvalMulti(document)
		toProps, err := resolveAssignments(e.To.Props, document)
		if err != nil {
			return Result{}, mapErr(err)
		}
		for _, tv := range toValues {
			keyStr := toString(tv)
			if keyStr == "" {
				continue
			}
			toIdentity := graphstore.Identity{KBID: run.KBID, Label: e.To.Label, KeyValue: keyStr}
			res.Nodes = append(res.Nodes, NodeUpsertOp{Identity: toIdentity, Properties: toProps})
			res.Edges = append(res.Edges, EdgeUpsertOp{
				Identity: graphstore.EdgeIdentity{KBID: run.KBID, Type: e.Type, From: fromIdentity, To: toIdentity},
			})
		}
	}

	if s.Embedding.ProviderID != "" {
		texts, err := Chunk(s.Embedding, nodeDecl, props)
		if err != nil {
			return Result{}, mapErr(err)
		}
		if len(texts) > 0 {
			res.Chunks = append(res.Chunks, ChunkReplaceOp{Node: identity, Texts: texts})
		}
	}

	return res, nil
}

// mapErr classifies a mapping failure as kgerrors.ErrDocumentMapping while
// preserving err for logging/unwrap.
func mapErr(err error) error {
	return kgerrors.Op("mapping.Map", fmt.Errorf("%w: %v", kgerrors.ErrDocumentMapping, err))
}

func resolveAssignments(assigns []schema.PropAssign, document any) (map[string]any, error) {
	out := make(map[string]any, len(assigns))
	for _, a := range assigns {
		expr, err := pathexpr.Parse(a.Path)
		if err != nil {
			return nil, err
		}
		if v, ok := expr.EvalScalar(document); ok {
			out[a.Property] = v
		}
	}
	return out, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
