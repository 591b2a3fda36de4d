package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"knowgraph/internal/config"
)

type localReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Local calls a subprocess-style embedding endpoint (an OpenAI-compatible
// /embeddings route served by a local model runner) over plain HTTP.
type Local struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewLocal builds a Local provider bound to model, reading its base URL and
// timeout from cfg.
func NewLocal(cfg config.EmbeddingConfig, model string) *Local {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Local{
		baseURL: cfg.LocalBaseURL,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (l *Local) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, err := json.Marshal(localReq{Model: l.model, Input: texts})
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, l.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: local endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, 0, fmt.Errorf("embedding: local endpoint returned %s: %s", resp.Status, string(b))
	}

	var er localResp
	if err := json.Unmarshal(b, &er); err != nil {
		return nil, 0, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, 0, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(er.Data))
	}
	out := make([][]float32, len(er.Data))
	dim := 0
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
		if len(out[i]) > dim {
			dim = len(out[i])
		}
	}
	return out, dim, nil
}

// CheckReachability sends a one-word probe to confirm the endpoint answers.
func (l *Local) CheckReachability(ctx context.Context) error {
	_, _, err := l.Embed(ctx, []string{"ping"})
	return err
}
