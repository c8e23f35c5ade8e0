package playbook

import (
	"context"
	"fmt"
	"time"

	"riskgraph/config"
	"riskgraph/internal/logger"
	"riskgraph/internal/metrics"
	"riskgraph/pkg/models"
)

const (
	defaultEscalationRisk     = 70.0
	defaultEscalationFidelity = 60.0
	defaultGenerationTimeout  = 20 * time.Second
)

// Selector owns the incident lifecycle from scored to finalized. It
// assigns a deterministic playbook from the decision table, escalates
// high-risk high-fidelity incidents to the advanced generator under a
// strict deadline, and finalizes regardless of the generator's fate.
type Selector struct {
	table            *Table
	gen              Generator
	escalateRisk     float64
	escalateFidelity float64
	timeout          time.Duration
	now              clock
}

// NewSelector creates a selector. A nil generator disables escalation.
func NewSelector(cfg config.PlaybookConfig, table *Table, gen Generator) *Selector {
	if table == nil {
		table = DefaultTable()
	}
	if cfg.EscalationRiskThreshold <= 0 {
		cfg.EscalationRiskThreshold = defaultEscalationRisk
	}
	if cfg.EscalationFidelityThresh <= 0 {
		cfg.EscalationFidelityThresh = defaultEscalationFidelity
	}
	if cfg.AdvancedGenerationTimeout <= 0 {
		cfg.AdvancedGenerationTimeout = defaultGenerationTimeout
	}
	return &Selector{
		table:            table,
		gen:              gen,
		escalateRisk:     cfg.EscalationRiskThreshold,
		escalateFidelity: cfg.EscalationFidelityThresh,
		timeout:          cfg.AdvancedGenerationTimeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Assign runs a scored incident through assignment, optional escalation,
// and finalization. Finalized incidents are immutable: re-assignment is
// an error.
func (s *Selector) Assign(ctx context.Context, in *models.Incident) error {
	switch in.Status {
	case models.StatusScored:
	case models.StatusFinalized:
		return fmt.Errorf("incident %s is finalized and immutable", in.IncidentID)
	default:
		return fmt.Errorf("incident %s is %s, want %s", in.IncidentID, in.Status, models.StatusScored)
	}

	chosen := s.table.Select(in)
	in.PlaybookID = chosen.ID
	in.PlaybookText = chosen.Text()
	in.Status = models.StatusPlaybookAssigned
	in.UpdatedAt = s.now()

	if s.shouldEscalate(in) {
		s.escalate(ctx, in)
	}

	in.Status = models.StatusFinalized
	in.FinalizedAt = s.now()
	in.UpdatedAt = in.FinalizedAt
	metrics.IncidentsFinalized.WithLabelValues(in.Severity).Inc()
	return nil
}

func (s *Selector) shouldEscalate(in *models.Incident) bool {
	return s.gen != nil &&
		in.RiskScore >= s.escalateRisk &&
		in.FidelityScore >= s.escalateFidelity
}

// escalate asks the advanced generator for a tailored playbook. The
// deterministic assignment survives any failure: timeout, transport
// error, or a malformed response all fall back silently to it.
func (s *Selector) escalate(ctx context.Context, in *models.Incident) {
	in.Status = models.StatusEscalated
	in.UpdatedAt = s.now()

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(genCtx, in.Summarize())
	if err != nil {
		logger.Warnf("advanced generation for incident %s failed, keeping %s: %v",
			in.IncidentID, in.PlaybookID, err)
		metrics.Escalations.WithLabelValues("fallback").Inc()
		return
	}

	in.PlaybookText = text
	metrics.Escalations.WithLabelValues("generated").Inc()
}
