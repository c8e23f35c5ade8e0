package models

import (
	"sort"
	"time"
)

// FeatureVector is a fixed set of named numeric features derived from an
// entity window at a given evaluation time. A zero-valued vector is the
// well-defined result for an entity with no events in the window.
type FeatureVector struct {
	EntityID string             `json:"entity_id"`
	AsOf     time.Time          `json:"as_of"`
	Values   map[string]float64 `json:"values"`
}

// Names returns the feature names in deterministic order.
func (fv *FeatureVector) Names() []string {
	names := make([]string, 0, len(fv.Values))
	for name := range fv.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a feature value, zero when absent.
func (fv *FeatureVector) Get(name string) float64 {
	if fv == nil || fv.Values == nil {
		return 0
	}
	return fv.Values[name]
}
