package ueba

import (
	"math"
	"sync"
	"time"

	"riskgraph/pkg/models"
)

const confidenceHalfPoint = 5.0

// Config controls baseline decay and confidence reporting.
type Config struct {
	BaselineDecayHalfLife time.Duration
	MinConfidenceSamples  float64
}

// Tracker maintains per-entity baselines and computes deviation
// magnitudes. Scoring always happens against the baseline snapshot that
// existed before the observation is folded in, so anomalous behavior
// cannot redefine normal before being scored.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	byEntity map[string]*Baseline
}

// NewTracker creates a deviation tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.BaselineDecayHalfLife <= 0 {
		cfg.BaselineDecayHalfLife = 7 * 24 * time.Hour
	}
	if cfg.MinConfidenceSamples <= 0 {
		cfg.MinConfidenceSamples = 10
	}
	return &Tracker{
		cfg:      cfg,
		byEntity: make(map[string]*Baseline),
	}
}

// BaselineFor returns the current baseline snapshot for an entity.
func (t *Tracker) BaselineFor(entityID string) *Baseline {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.byEntity[entityID]
	if b == nil {
		b = NewBaseline(entityID)
		t.byEntity[entityID] = b
	}
	return b
}

// Evaluate computes the deviation of a feature vector from the entity's
// current baseline without updating it.
func (t *Tracker) Evaluate(fv *models.FeatureVector) models.UEBADeviation {
	return t.deviation(t.BaselineFor(fv.EntityID), fv)
}

// EvaluateAndObserve scores the vector against the pre-observation
// baseline, then installs the updated baseline version. The lock spans
// score and install, so concurrent callers for one entity serialize and
// every observation lands in the baseline.
func (t *Tracker) EvaluateAndObserve(fv *models.FeatureVector) models.UEBADeviation {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.byEntity[fv.EntityID]
	if b == nil {
		b = NewBaseline(fv.EntityID)
	}

	dev := t.deviation(b, fv)
	t.byEntity[fv.EntityID] = b.Observe(fv, t.cfg.BaselineDecayHalfLife)
	return dev
}

func (t *Tracker) deviation(b *Baseline, fv *models.FeatureVector) models.UEBADeviation {
	dev := models.UEBADeviation{
		EntityID:         fv.EntityID,
		BaselineAge:      b.Age(fv.AsOf),
		EffectiveSamples: b.EffectiveSamples,
	}

	if b.EffectiveSamples > 0 && len(fv.Values) > 0 {
		// Diagonal Mahalanobis distance: full covariance estimation is
		// unstable at these sample counts.
		var sum float64
		for name, value := range fv.Values {
			z := b.Z(name, value)
			sum += z * z
		}
		dev.Deviation = math.Sqrt(sum / float64(len(fv.Values)))
	}

	dev.Confidence = b.EffectiveSamples / (b.EffectiveSamples + confidenceHalfPoint)
	dev.LowConfidence = b.EffectiveSamples < t.cfg.MinConfidenceSamples
	return dev
}
