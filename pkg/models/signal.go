package models

import "time"

// Signal is one named, weighted, attributable contribution to a score.
// Every composite score must be reconstructible from its signal list.
type Signal struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// SumContributions totals the contributions of a signal list.
func SumContributions(signals []Signal) float64 {
	var total float64
	for _, s := range signals {
		total += s.Contribution
	}
	return total
}

// AnomalySignal is the output of the anomaly scorer for one entity.
type AnomalySignal struct {
	EntityID             string   `json:"entity_id"`
	Score                float64  `json:"score"`
	Flagged              bool     `json:"flagged"`
	ContributingFeatures []string `json:"contributing_features,omitempty"`
}

// UEBADeviation is the output of the deviation tracker for one entity.
// Deviation is unreliable below the minimum sample count and must be
// marked low-confidence; a low-confidence deviation never drives
// escalation on its own.
type UEBADeviation struct {
	EntityID         string        `json:"entity_id"`
	Deviation        float64       `json:"deviation"`
	BaselineAge      time.Duration `json:"baseline_age"`
	Confidence       float64       `json:"confidence"`
	EffectiveSamples float64       `json:"effective_samples"`
	LowConfidence    bool          `json:"low_confidence"`
}
