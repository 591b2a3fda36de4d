package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"knowgraph/internal/config"
)

// Remote calls a hosted embeddings API (OpenAI or an OpenAI-compatible
// cloud endpoint) via the openai-go SDK.
type Remote struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewRemote builds a Remote provider bound to model, authenticating with
// cfg.RemoteAPIKey and optionally redirecting to cfg.RemoteBaseURL.
func NewRemote(cfg config.EmbeddingConfig, model string) *Remote {
	opts := []option.RequestOption{option.WithAPIKey(cfg.RemoteAPIKey)}
	if cfg.RemoteBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.RemoteBaseURL))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Embeddings.New(cctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(r.model),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: remote provider call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(resp.Data))
	dim := 0
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
		if len(vec) > dim {
			dim = len(vec)
		}
	}
	return out, dim, nil
}
