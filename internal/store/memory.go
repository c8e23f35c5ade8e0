package store

import (
	"sort"
	"sync"

	"riskgraph/pkg/models"
)

// Memory is the in-process incident store backing the query API. The
// engine is fully functional without external persistence; sinks append
// finalized incidents elsewhere when configured.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]*models.Incident
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*models.Incident)}
}

// Upsert stores an incident by ID, replacing any prior version.
func (m *Memory) Upsert(in *models.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[in.IncidentID] = in
}

// Get returns the incident with the given ID.
func (m *Memory) Get(id string) (*models.Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.byID[id]
	return in, ok
}

// List returns incidents newest first, optionally filtered to those
// involving an entity. A non-positive limit returns everything.
func (m *Memory) List(entityID string, limit int) []*models.Incident {
	m.mu.RLock()
	out := make([]*models.Incident, 0, len(m.byID))
	for _, in := range m.byID {
		if entityID != "" && !involvesEntity(in, entityID) {
			continue
		}
		out = append(out, in)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].IncidentID < out[j].IncidentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of stored incidents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func involvesEntity(in *models.Incident, entityID string) bool {
	for _, id := range in.EntityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}
