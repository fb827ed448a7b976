package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
)

// Client resolves hostnames or IPs against the external asset registry. All
// lookups are best-effort with a hard timeout; failures fall back to the
// caller's placeholder, never block the pipeline.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// Config configures the registry client.
type Config struct {
	URL     string
	Timeout time.Duration
}

type resolveResponse struct {
	AssetID string `json:"asset_id"`
}

// NewClient creates a registry client. Timeouts above 2s are clamped because
// the lookup sits on the ingest path.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("registry URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Resolve maps an identifier to a logical asset ID. The boolean is false on
// not-found, timeout, or any transport failure.
func (c *Client) Resolve(ctx context.Context, identifier string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/resolve?identifier=%s", c.baseURL, url.QueryEscape(identifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		metrics.RegistryFailures.Inc()
		return "", false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RegistryFailures.Inc()
		logger.Debugf("Registry lookup error for %s: %v", identifier, err)
		return "", false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return "", false
	}
	if resp.StatusCode >= 300 {
		metrics.RegistryFailures.Inc()
		logger.Debugf("Registry lookup for %s returned %s", identifier, resp.Status)
		return "", false
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AssetID == "" {
		metrics.RegistryFailures.Inc()
		return "", false
	}
	return body.AssetID, true
}
