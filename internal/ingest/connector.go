package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"knowgraph/internal/kgerrors"
	"knowgraph/internal/observability"
)

// Connector issues the single HTTP pull a run performs against a source's
// connector_url.
type Connector struct {
	client  *http.Client
	timeout time.Duration
}

// NewConnector builds a Connector using an otelhttp-instrumented client.
// timeout bounds every Pull call (default 60s when zero).
func NewConnector(timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Connector{client: observability.NewHTTPClient(nil), timeout: timeout}
}

// Pull fetches documents from url. authRef, when non-empty, is sent verbatim
// as a Bearer token (a real deployment would resolve authRef through a
// secrets store before reaching here). The response body must decode as a
// JSON array of documents and must not exceed maxBytes. The call is bounded
// by the Connector's configured timeout regardless of ctx's own deadline.
func (c *Connector) Pull(ctx context.Context, url, authRef string, maxBytes int64) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, kgerrors.Op("ingest.Pull", fmt.Errorf("%w: %v", kgerrors.ErrConnectorUnavailable, err))
	}
	if authRef != "" {
		req.Header.Set("Authorization", "Bearer "+authRef)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, kgerrors.Op("ingest.Pull", fmt.Errorf("%w: %v", kgerrors.ErrConnectorUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, kgerrors.Op("ingest.Pull", fmt.Errorf("%w: status %s", kgerrors.ErrConnectorUnavailable, resp.Status))
	}

	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, kgerrors.Op("ingest.Pull", fmt.Errorf("%w: %v", kgerrors.ErrConnectorUnavailable, err))
	}
	if int64(len(body)) > maxBytes {
		return nil, kgerrors.Op("ingest.Pull", kgerrors.ErrConnectorResponseTooLarge)
	}

	var docs []any
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, kgerrors.Op("ingest.Pull", fmt.Errorf("%w: %v", kgerrors.ErrConnectorMalformed, err))
	}
	return docs, nil
}
