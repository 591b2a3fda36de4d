// Package embedding implements the embedding provider abstraction: a
// capability that turns chunk texts into vectors for a given provider_id,
// with pluggable backends registered by scheme.
package embedding

import (
	"context"
	"strings"
	"sync"

	"knowgraph/internal/kgerrors"
)

// Provider embeds a batch of texts under one provider_id and reports the
// vector dimension it produced, so callers can detect a dimension change
// against what a schema's prior embedding declared.
type Provider interface {
	Embed(ctx context.Context, texts []string) (vectors [][]float32, dim int, err error)
}

// Registry dispatches provider_id to the Provider that serves it. provider_id
// is "<scheme>:<model>", e.g. "local:nomic-embed-text-v1.5" or
// "openai:text-embedding-3-small". Unknown schemes return
// kgerrors.ErrEmbeddingUnavailable; an empty batch returns nil vectors and no
// error.
type Registry struct {
	factories map[string]func(model string) Provider

	mu   sync.Mutex
	dims map[string]int // provider_id -> dimension registered on its first successful embed
}

// NewRegistry builds a registry with the given scheme -> provider factories.
func NewRegistry(factories map[string]func(model string) Provider) *Registry {
	return &Registry{factories: factories, dims: make(map[string]int)}
}

// Embed resolves providerID's scheme, builds a Provider from that scheme's
// factory on every call, and embeds texts. dim is validated against wantDim when wantDim > 0; otherwise
// it is validated against the dimension this provider_id registered on its
// first successful call (the first call for a provider_id always seeds that
// registration rather than failing).
func (r *Registry) Embed(ctx context.Context, providerID string, texts []string, wantDim int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	scheme, model, ok := splitProviderID(providerID)
	if !ok {
		return nil, kgerrors.Op("embedding.Embed", kgerrors.ErrEmbeddingUnavailable)
	}
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, kgerrors.Op("embedding.Embed", kgerrors.ErrEmbeddingUnavailable)
	}
	provider := factory(model)
	vectors, dim, err := provider.Embed(ctx, texts)
	if err != nil {
		return nil, kgerrors.Op("embedding.Embed", err)
	}
	expected := wantDim
	if expected <= 0 {
		expected = r.registeredDim(providerID, dim)
	}
	if expected > 0 && dim != expected {
		return nil, kgerrors.Op("embedding.Embed", kgerrors.ErrEmbeddingDimensionMismatch)
	}
	return vectors, nil
}

// registeredDim returns the dimension previously registered for providerID,
// seeding it with observed on the first call for that provider_id.
func (r *Registry) registeredDim(providerID string, observed int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dims[providerID]; ok {
		return d
	}
	r.dims[providerID] = observed
	return observed
}

func splitProviderID(providerID string) (scheme, model string, ok bool) {
	idx := strings.IndexByte(providerID, ':')
	if idx <= 0 || idx == len(providerID)-1 {
		return "", "", false
	}
	return providerID[:idx], providerID[idx+1:], true
}
