package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/pkg/models"
)

// Status marks whether enrichment produced text. "No enrichment" is a
// first-class outcome the caller branches on, not an error path.
type Status string

const (
	StatusEnriched    Status = "enriched"
	StatusUnavailable Status = "unavailable"
)

// Result is the explicit outcome of an enrichment call.
type Result struct {
	Status      Status
	Explanation string
}

// Config configures the enrichment client.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// Client calls the language-model-backed explanation service. It runs after
// an incident is committed and never sits on the emission path.
type Client struct {
	url     string
	headers map[string]string
	client  *http.Client
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// NewClient creates an enrichment client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("enrichment URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Explain requests human-readable explanation text for a finalized incident.
// Any failure yields Unavailable; the caller picks the fallback.
func (c *Client) Explain(ctx context.Context, inc *models.Incident) Result {
	body, err := json.Marshal(inc)
	if err != nil {
		metrics.EnrichmentResults.WithLabelValues(string(StatusUnavailable)).Inc()
		return Result{Status: StatusUnavailable}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		metrics.EnrichmentResults.WithLabelValues(string(StatusUnavailable)).Inc()
		return Result{Status: StatusUnavailable}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Debugf("Enrichment call failed for %s: %v", inc.IncidentID, err)
		metrics.EnrichmentResults.WithLabelValues(string(StatusUnavailable)).Inc()
		return Result{Status: StatusUnavailable}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		logger.Debugf("Enrichment call for %s returned %s", inc.IncidentID, resp.Status)
		metrics.EnrichmentResults.WithLabelValues(string(StatusUnavailable)).Inc()
		return Result{Status: StatusUnavailable}
	}

	var parsed explainResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Explanation == "" {
		metrics.EnrichmentResults.WithLabelValues(string(StatusUnavailable)).Inc()
		return Result{Status: StatusUnavailable}
	}

	metrics.EnrichmentResults.WithLabelValues(string(StatusEnriched)).Inc()
	return Result{Status: StatusEnriched, Explanation: parsed.Explanation}
}
