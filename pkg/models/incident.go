package models

import (
	"sort"
	"time"
)

// Status is the incident lifecycle state.
type Status string

// Incident states. Transitions are owned by the playbook selector;
// FINALIZED is terminal and the incident is immutable afterward.
const (
	StatusOpen             Status = "open"
	StatusScored           Status = "scored"
	StatusPlaybookAssigned Status = "playbook_assigned"
	StatusEscalated        Status = "escalated_for_advanced_generation"
	StatusFinalized        Status = "finalized"
)

// Incident is a correlated group of events and derived scores
// representing one response-worthy situation.
type Incident struct {
	IncidentID     string          `json:"incident_id"`
	LinkedTo       string          `json:"linked_to,omitempty"`
	EntityIDs      []string        `json:"entity_ids"`
	Events         []*Event        `json:"events"`
	AnomalySignals []AnomalySignal `json:"anomaly_signals,omitempty"`
	UEBADeviations []UEBADeviation `json:"ueba_deviations,omitempty"`

	RiskScore       float64  `json:"risk_score"`
	FidelityScore   float64  `json:"fidelity_score"`
	Severity        string   `json:"severity,omitempty"`
	Signals         []Signal `json:"signals,omitempty"`
	FidelityFactors []Signal `json:"fidelity_factors,omitempty"`

	PlaybookID   string `json:"playbook_id,omitempty"`
	PlaybookText string `json:"playbook_text,omitempty"`
	Status       Status `json:"status"`

	OpenedAt    time.Time `json:"opened_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// WindowStart returns the timestamp of the earliest correlated event.
func (in *Incident) WindowStart() time.Time {
	if len(in.Events) == 0 {
		return time.Time{}
	}
	return in.Events[0].Timestamp
}

// WindowEnd returns the timestamp of the latest correlated event.
func (in *Incident) WindowEnd() time.Time {
	if len(in.Events) == 0 {
		return time.Time{}
	}
	return in.Events[len(in.Events)-1].Timestamp
}

// SignalNames returns the sorted names of the incident's risk signals.
func (in *Incident) SignalNames() []string {
	names := make([]string, 0, len(in.Signals))
	for _, s := range in.Signals {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Summary is the non-PII projection of an incident passed to the
// advanced-generation collaborator. Raw events never leave the core.
type Summary struct {
	IncidentID    string   `json:"incident_id"`
	EntityCount   int      `json:"entity_count"`
	EventCount    int      `json:"event_count"`
	RiskScore     float64  `json:"risk_score"`
	FidelityScore float64  `json:"fidelity_score"`
	Severity      string   `json:"severity"`
	Signals       []Signal `json:"signals"`
}

// Summarize builds the non-PII summary of an incident.
func (in *Incident) Summarize() Summary {
	return Summary{
		IncidentID:    in.IncidentID,
		EntityCount:   len(in.EntityIDs),
		EventCount:    len(in.Events),
		RiskScore:     in.RiskScore,
		FidelityScore: in.FidelityScore,
		Severity:      in.Severity,
		Signals:       in.Signals,
	}
}
