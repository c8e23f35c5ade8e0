package ueba

import (
	"math"
	"time"

	"riskgraph/pkg/models"
)

const minStd = 1e-3

// FeatureStat is the exponentially weighted running summary of one feature.
type FeatureStat struct {
	Mean float64 `json:"mean"`
	// S is the decayed sum of squared deviations; variance is S / weight.
	S float64 `json:"s"`
}

// Baseline is a versioned per-entity statistical summary. A baseline value
// is never mutated in place: Observe produces a replacement, so scoring
// always reads a stable snapshot.
type Baseline struct {
	EntityID         string                 `json:"entity_id"`
	Version          int64                  `json:"version"`
	Stats            map[string]FeatureStat `json:"stats"`
	EffectiveSamples float64                `json:"effective_samples"`
	FirstObserved    time.Time              `json:"first_observed"`
	LastObserved     time.Time              `json:"last_observed"`
}

// NewBaseline creates an empty baseline for an entity.
func NewBaseline(entityID string) *Baseline {
	return &Baseline{EntityID: entityID, Stats: make(map[string]FeatureStat)}
}

// Mean returns the baseline mean for a feature.
func (b *Baseline) Mean(name string) float64 {
	if b == nil {
		return 0
	}
	return b.Stats[name].Mean
}

// Std returns the baseline standard deviation for a feature, floored so
// a constant history cannot produce unbounded z-scores.
func (b *Baseline) Std(name string) float64 {
	if b == nil || b.EffectiveSamples <= 0 {
		return minStd
	}
	v := b.Stats[name].S / b.EffectiveSamples
	if v < 0 {
		v = 0
	}
	std := math.Sqrt(v)
	if std < minStd {
		return minStd
	}
	return std
}

// Z returns the absolute normalized deviation of a value from the baseline.
func (b *Baseline) Z(name string, value float64) float64 {
	return math.Abs(value-b.Mean(name)) / b.Std(name)
}

// Age reports how long the baseline has been accumulating.
func (b *Baseline) Age(now time.Time) time.Duration {
	if b == nil || b.FirstObserved.IsZero() {
		return 0
	}
	return now.Sub(b.FirstObserved)
}

// Observe folds a feature vector into the baseline and returns the new
// version. Weights of earlier samples decay exponentially with the
// configured half-life so stale behavior loses influence.
func (b *Baseline) Observe(fv *models.FeatureVector, halfLife time.Duration) *Baseline {
	next := &Baseline{
		EntityID:      b.EntityID,
		Version:       b.Version + 1,
		Stats:         make(map[string]FeatureStat, len(b.Stats)+len(fv.Values)),
		FirstObserved: b.FirstObserved,
		LastObserved:  fv.AsOf,
	}
	if next.FirstObserved.IsZero() {
		next.FirstObserved = fv.AsOf
	}

	decay := 1.0
	if halfLife > 0 && !b.LastObserved.IsZero() {
		gap := fv.AsOf.Sub(b.LastObserved)
		if gap > 0 {
			decay = math.Pow(0.5, gap.Seconds()/halfLife.Seconds())
		}
	}

	weight := b.EffectiveSamples*decay + 1
	next.EffectiveSamples = weight

	for name, stat := range b.Stats {
		next.Stats[name] = FeatureStat{Mean: stat.Mean, S: stat.S * decay}
	}
	for name, value := range fv.Values {
		stat := next.Stats[name]
		oldMean := stat.Mean
		stat.Mean = oldMean + (value-oldMean)/weight
		stat.S += (value - oldMean) * (value - stat.Mean)
		next.Stats[name] = stat
	}

	return next
}
