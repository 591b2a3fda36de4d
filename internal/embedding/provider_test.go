package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowgraph/internal/kgerrors"
)

type fakeProvider struct {
	dim int
}

func (f fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, f.dim, nil
}

func TestRegistry_EmbedDispatchesByScheme(t *testing.T) {
	r := NewRegistry(map[string]func(model string) Provider{
		"local": func(model string) Provider { return fakeProvider{dim: 8} },
	})
	vecs, err := r.Embed(context.Background(), "local:some-model", []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
}

func TestRegistry_UnknownSchemeIsUnavailable(t *testing.T) {
	r := NewRegistry(map[string]func(model string) Provider{})
	_, err := r.Embed(context.Background(), "remote:m", []string{"a"}, 0)
	assert.ErrorIs(t, err, kgerrors.ErrEmbeddingUnavailable)
}

func TestRegistry_MalformedProviderIDIsUnavailable(t *testing.T) {
	r := NewRegistry(map[string]func(model string) Provider{
		"local": func(model string) Provider { return fakeProvider{dim: 4} },
	})
	_, err := r.Embed(context.Background(), "no-colon-here", []string{"a"}, 0)
	assert.ErrorIs(t, err, kgerrors.ErrEmbeddingUnavailable)
}

func TestRegistry_DimensionMismatchIsRejected(t *testing.T) {
	r := NewRegistry(map[string]func(model string) Provider{
		"local": func(model string) Provider { return fakeProvider{dim: 8} },
	})
	_, err := r.Embed(context.Background(), "local:m", []string{"a"}, 16)
	assert.ErrorIs(t, err, kgerrors.ErrEmbeddingDimensionMismatch)
}

func TestRegistry_SecondCallDimensionChangeIsRejectedWithoutExplicitWantDim(t *testing.T) {
	dim := 8
	r := NewRegistry(map[string]func(model string) Provider{
		"local": func(model string) Provider { return fakeProvider{dim: dim} },
	})
	// First call for this provider_id registers dim=8 as the expected length.
	vecs, err := r.Embed(context.Background(), "local:m", []string{"a"}, 0)
	require.NoError(t, err)
	assert.Len(t, vecs[0], 8)

	// A later call returning a different dimension for the same provider_id
	// must be rejected even though the caller never supplied wantDim.
	dim = 16
	_, err = r.Embed(context.Background(), "local:m", []string{"a"}, 0)
	assert.ErrorIs(t, err, kgerrors.ErrEmbeddingDimensionMismatch)
}

func TestRegistry_EmptyBatchIsNoOp(t *testing.T) {
	r := NewRegistry(map[string]func(model string) Provider{})
	vecs, err := r.Embed(context.Background(), "local:m", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
