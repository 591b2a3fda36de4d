package mapping

import (
	"fmt"
	"strings"

	"knowgraph/internal/kgerrors"
	"knowgraph/internal/schema"
	"knowgraph/internal/textsplitters"
)

// Chunk applies emb's chunking_strategy to produce the raw texts destined
// for embedding. nodeDecl and resolvedProps provide the
// node's property values; by_fields reads named properties directly, the
// other three strategies chunk the node's designated text property (the
// convention: a property named "text", "body", or "content", first match).
func Chunk(emb schema.Embedding, nodeDecl schema.NodeDecl, resolvedProps map[string]any) ([]string, error) {
	switch emb.ChunkingStrategy {
	case "by_fields":
		return chunkByFields(emb, resolvedProps)
	case "by_headings":
		return chunkWithSplitter(textsplitters.Config{
			Kind: textsplitters.KindMarkdown,
			Markdown: textsplitters.MarkdownConfig{
				Within: textsplitters.BoundaryConfig{Unit: textsplitters.UnitTokens, Size: maxTokens(emb, 500)},
			},
		}, textOf(resolvedProps))
	case "sentence":
		return chunkWithSplitter(textsplitters.Config{
			Kind:     textsplitters.KindSentences,
			Boundary: textsplitters.BoundaryConfig{Unit: textsplitters.UnitTokens, Size: maxTokens(emb, 200)},
		}, textOf(resolvedProps))
	case "paragraph":
		return chunkWithSplitter(textsplitters.Config{
			Kind:     textsplitters.KindParagraphs,
			Boundary: textsplitters.BoundaryConfig{Unit: textsplitters.UnitTokens, Size: maxTokens(emb, 300)},
		}, textOf(resolvedProps))
	case "":
		return nil, nil
	default:
		return nil, kgerrors.Op("mapping.Chunk", fmt.Errorf("%w: unknown chunking_strategy %q", kgerrors.ErrDocumentMapping, emb.ChunkingStrategy))
	}
}

func chunkWithSplitter(cfg textsplitters.Config, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	s, err := textsplitters.NewFromConfig(cfg)
	if err != nil {
		return nil, kgerrors.Op("mapping.Chunk", fmt.Errorf("%w: build splitter: %v", kgerrors.ErrDocumentMapping, err))
	}
	return s.Split(text), nil
}

func chunkByFields(emb schema.Embedding, resolvedProps map[string]any) ([]string, error) {
	fieldsAny, _ := emb.ChunkingParams["fields"].([]any)
	var parts []string
	for _, f := range fieldsAny {
		name, _ := f.(string)
		if v, ok := resolvedProps[name]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	combined := strings.Join(parts, "\n\n")
	maxTok := maxTokens(emb, 0)
	if maxTok <= 0 {
		return []string{combined}, nil
	}
	return chunkWithSplitter(textsplitters.Config{
		Kind: textsplitters.KindFixed,
		Fixed: textsplitters.FixedConfig{
			Unit: textsplitters.UnitTokens,
			Size: maxTok,
		},
	}, combined)
}

func maxTokens(emb schema.Embedding, def int) int {
	if v, ok := emb.ChunkingParams["max_tokens"]; ok {
		switch t := v.(type) {
		case int:
			return t
		case float64:
			return int(t)
		}
	}
	return def
}

// textOf picks the first populated conventional text property from a
// resolved property map, in priority order.
func textOf(resolvedProps map[string]any) string {
	for _, key := range []string{"text", "body", "content"} {
		if v, ok := resolvedProps[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
