package playbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"riskgraph/config"
	"riskgraph/pkg/models"
)

// Generator produces a context-specific playbook from a non-PII incident
// summary. Implementations may be slow or unavailable; callers bound
// them with a context deadline and keep the deterministic assignment as
// fallback.
type Generator interface {
	Generate(ctx context.Context, summary models.Summary) (string, error)
}

// HTTPGenerator calls an external generation service over HTTP.
type HTTPGenerator struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPGenerator creates a generator client. The HTTP client carries
// no timeout of its own; the per-call context bounds each request.
func NewHTTPGenerator(cfg config.AdvancedConfig) *HTTPGenerator {
	return &HTTPGenerator{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{},
	}
}

type generateResponse struct {
	Playbook string `json:"playbook"`
}

// Generate posts the incident summary and returns the generated playbook
// text.
func (g *HTTPGenerator) Generate(ctx context.Context, summary models.Summary) (string, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse generation response: %w", err)
	}
	if out.Playbook == "" {
		return "", fmt.Errorf("generation response carried no playbook")
	}
	return out.Playbook, nil
}

// staticClock lets tests pin time; production uses the real clock.
type clock func() time.Time
