// Package submission delivers outbound death-record message bundles to the
// national receiving system. Delivery is a single ordered call with no
// retry; retry policy belongs to the operator, not this client.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/openvital/edrs/internal/platform/fhir"
)

// Client transmits one message bundle.
type Client interface {
	Submit(ctx context.Context, bundle *fhir.Bundle) error
}

// HTTPClient posts message bundles as FHIR JSON to a configured endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

func NewHTTPClient(endpoint string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *HTTPClient) Submit(ctx context.Context, bundle *fhir.Bundle) error {
	body, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode message bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/fhir+json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	c.log.Info().
		Str("bundle_id", bundle.ID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("submission delivered")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("submission endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
