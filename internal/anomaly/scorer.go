package anomaly

import (
	"sort"
	"sync"

	"riskgraph/internal/metrics"
	"riskgraph/internal/ueba"
	"riskgraph/pkg/models"
)

const (
	defaultFlagThreshold = 0.6
	historySize          = 512
	historyMinimum       = 20
	topPercentile        = 0.95
	// squash knee: z of 2 maps to 0.5, larger deviations approach 1.
	squashScale = 2.0
)

// Config controls anomaly scoring.
type Config struct {
	// FlagThreshold fixes the flagging threshold in [0,1]. Zero selects
	// the adaptive default: the top percentile of recent scores.
	FlagThreshold float64
	// FeatureZThreshold is the normalized deviation above which a
	// feature is reported as contributing.
	FeatureZThreshold float64
}

// Scorer scores feature vectors against entity baselines. Per-feature
// z-scores are squashed and averaged, so the score is monotonic in each
// feature's absolute deviation from its baseline mean and interpretable
// feature by feature.
type Scorer struct {
	mu      sync.Mutex
	cfg     Config
	history []float64
}

// NewScorer creates an anomaly scorer.
func NewScorer(cfg Config) *Scorer {
	if cfg.FeatureZThreshold <= 0 {
		cfg.FeatureZThreshold = 2.0
	}
	return &Scorer{cfg: cfg}
}

// Score evaluates a feature vector against a baseline snapshot. With no
// accumulated baseline the score is zero and unflagged: insufficient
// data, not an anomaly.
func (s *Scorer) Score(fv *models.FeatureVector, baseline *ueba.Baseline) models.AnomalySignal {
	sig := models.AnomalySignal{EntityID: fv.EntityID}

	if baseline == nil || baseline.EffectiveSamples <= 0 || len(fv.Values) == 0 {
		return sig
	}

	type featureDev struct {
		name string
		z    float64
	}
	devs := make([]featureDev, 0, len(fv.Values))

	var sum float64
	for _, name := range fv.Names() {
		z := baseline.Z(name, fv.Values[name])
		sum += z / (z + squashScale)
		devs = append(devs, featureDev{name: name, z: z})
	}
	sig.Score = sum / float64(len(fv.Values))

	// Contributing features ranked by deviation magnitude; the ranking
	// is reused verbatim in incident signal explanations.
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].z != devs[j].z {
			return devs[i].z > devs[j].z
		}
		return devs[i].name < devs[j].name
	})
	for _, d := range devs {
		if d.z >= s.cfg.FeatureZThreshold {
			sig.ContributingFeatures = append(sig.ContributingFeatures, d.name)
		}
	}

	sig.Flagged = sig.Score >= s.threshold(sig.Score)
	if sig.Flagged {
		metrics.AnomaliesFlagged.Inc()
	}
	return sig
}

// threshold returns the flagging threshold, recording the score into the
// rolling history used by the adaptive percentile default.
func (s *Scorer) threshold(score float64) float64 {
	if s.cfg.FlagThreshold > 0 {
		return s.cfg.FlagThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, score)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	if len(s.history) < historyMinimum {
		return defaultFlagThreshold
	}

	sorted := append([]float64(nil), s.history...)
	sort.Float64s(sorted)
	idx := int(topPercentile * float64(len(sorted)-1))
	t := sorted[idx]
	if t < defaultFlagThreshold {
		t = defaultFlagThreshold
	}
	return t
}
