package incidentch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"riskgraph/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Writer indexes finalized incidents into ClickHouse via HTTP
// JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// row is the flattened incident form stored for analytics queries.
type row struct {
	IncidentID    string   `json:"incident_id"`
	LinkedTo      string   `json:"linked_to"`
	EntityIDs     []string `json:"entity_ids"`
	EventCount    int      `json:"event_count"`
	RiskScore     float64  `json:"risk_score"`
	FidelityScore float64  `json:"fidelity_score"`
	Severity      string   `json:"severity"`
	Signals       []string `json:"signals"`
	PlaybookID    string   `json:"playbook_id"`
	OpenedAt      string   `json:"opened_at"`
	FinalizedAt   string   `json:"finalized_at"`
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "incidents"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// WriteIncidents sends a batch of incident rows.
func (w *Writer) WriteIncidents(incidents []*models.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, in := range incidents {
		if err := enc.Encode(rowFrom(in)); err != nil {
			return fmt.Errorf("failed to marshal incident: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func rowFrom(in *models.Incident) row {
	return row{
		IncidentID:    in.IncidentID,
		LinkedTo:      in.LinkedTo,
		EntityIDs:     in.EntityIDs,
		EventCount:    len(in.Events),
		RiskScore:     in.RiskScore,
		FidelityScore: in.FidelityScore,
		Severity:      in.Severity,
		Signals:       in.SignalNames(),
		PlaybookID:    in.PlaybookID,
		OpenedAt:      in.OpenedAt.UTC().Format(time.RFC3339Nano),
		FinalizedAt:   in.FinalizedAt.UTC().Format(time.RFC3339Nano),
	}
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
