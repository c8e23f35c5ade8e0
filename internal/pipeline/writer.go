package pipeline

import "riskgraph/pkg/models"

// IncidentWriter persists finalized incidents.
type IncidentWriter interface {
	WriteIncidents(incidents []*models.Incident) error
	Close() error
}
