package risk

import (
	"time"

	"riskgraph/config"
	"riskgraph/pkg/models"
)

// Risk signal names. Playbook table rows reference these.
const (
	SignalAnomaly          = "anomaly"
	SignalUEBA             = "ueba_deviation"
	SignalFailedLoginBurst = "failed_login_burst"
	SignalAfterHours       = "after_hours_access"
	SignalNewDevice        = "new_device"
	SignalImpossibleTravel = "impossible_travel"
	SignalRuleMatch        = "rule_match"
)

const (
	defaultBurstCount  = 3
	defaultBurstWindow = 10 * time.Minute
	defaultTravelGap   = time.Hour

	// ruleMatchSaturation is the match count at which the rule_match
	// signal value reaches 1.
	ruleMatchSaturation = 3
	// deviationSquashScale maps a UEBA deviation of 2 to a signal value
	// of 0.5, matching the anomaly scorer's squash knee.
	deviationSquashScale = 2.0
	// lowConfidenceDiscount halves UEBA influence while the baseline has
	// too few effective samples.
	lowConfidenceDiscount = 0.5

	fidelityBase         = 30.0
	fidelityPerSource    = 15.0
	lowConfidencePenalty = 10.0
	fidelityCeiling      = 99.0
)

// DefaultWeights is the shipped risk weight policy. The total is exactly
// 100, so a fully lit incident scores 100 without clamping.
var DefaultWeights = config.RiskWeights{
	Anomaly:          40,
	UEBA:             25,
	FailedLoginBurst: 10,
	AfterHoursAccess: 7,
	NewDevice:        7,
	ImpossibleTravel: 6,
	RuleMatch:        5,
}

// Scorer computes risk and fidelity scores for correlated incidents.
// Every point of risk is attributed to a named signal; the signal
// contributions sum back to the risk score.
type Scorer struct {
	weights config.RiskWeights
	cfg     config.RiskConfig
	history DeviceHistory
}

// NewScorer creates a scorer. Zero-valued weights select the default
// policy; history may be nil, which disables new-device detection.
func NewScorer(cfg config.RiskConfig, history DeviceHistory) *Scorer {
	if cfg.Weights == (config.RiskWeights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.BurstCount <= 0 {
		cfg.BurstCount = defaultBurstCount
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = defaultBurstWindow
	}
	if cfg.TravelGap <= 0 {
		cfg.TravelGap = defaultTravelGap
	}
	return &Scorer{weights: cfg.Weights, cfg: cfg, history: history}
}

// Score fills in the incident's risk signals, fidelity factors, scores,
// and severity, and moves it to the scored state.
func (s *Scorer) Score(in *models.Incident) {
	in.Signals = s.riskSignals(in)
	in.RiskScore = models.SumContributions(in.Signals)

	in.FidelityFactors = s.fidelityFactors(in)
	in.FidelityScore = clamp(models.SumContributions(in.FidelityFactors), 0, fidelityCeiling)

	in.Severity = Severity(in.RiskScore)
	in.Status = models.StatusScored
	in.UpdatedAt = time.Now().UTC()
}

func (s *Scorer) riskSignals(in *models.Incident) []models.Signal {
	signals := make([]models.Signal, 0, 7)
	add := func(name string, value, weight float64) {
		if value <= 0 || weight <= 0 {
			return
		}
		if value > 1 {
			value = 1
		}
		signals = append(signals, models.Signal{
			Name:         name,
			Value:        value,
			Weight:       weight,
			Contribution: value * weight,
		})
	}

	add(SignalAnomaly, maxAnomalyScore(in.AnomalySignals), s.weights.Anomaly)
	add(SignalUEBA, uebaValue(in.UEBADeviations), s.weights.UEBA)

	if detectFailedLoginBurst(in.Events, s.cfg.BurstCount, s.cfg.BurstWindow) {
		add(SignalFailedLoginBurst, 1, s.weights.FailedLoginBurst)
	}
	if detectAfterHours(in.Events) {
		add(SignalAfterHours, 1, s.weights.AfterHoursAccess)
	}
	if detectNewDevice(in.Events, s.history, in.WindowStart()) {
		add(SignalNewDevice, 1, s.weights.NewDevice)
	}
	if detectImpossibleTravel(in.Events, s.cfg.TravelGap) {
		add(SignalImpossibleTravel, 1, s.weights.ImpossibleTravel)
	}
	if matches := countRuleMatches(in.Events); matches > 0 {
		add(SignalRuleMatch, float64(matches)/ruleMatchSaturation, s.weights.RuleMatch)
	}

	return signals
}

// fidelityFactors expresses evidence corroboration as an auditable
// factor list: a base, one factor per independent source family, and a
// penalty when the only evidence is a low-confidence baseline deviation.
func (s *Scorer) fidelityFactors(in *models.Incident) []models.Signal {
	factors := []models.Signal{{
		Name: "base", Value: 1, Weight: fidelityBase, Contribution: fidelityBase,
	}}
	addSource := func(name string) {
		factors = append(factors, models.Signal{
			Name: name, Value: 1, Weight: fidelityPerSource, Contribution: fidelityPerSource,
		})
	}

	hasRuleHit := false
	hasSigma := countRuleMatches(in.Events) > 0
	for _, sig := range in.Signals {
		switch sig.Name {
		case SignalFailedLoginBurst, SignalAfterHours, SignalNewDevice, SignalImpossibleTravel:
			hasRuleHit = true
		}
	}

	anomalyFlagged := false
	for _, a := range in.AnomalySignals {
		if a.Flagged {
			anomalyFlagged = true
			break
		}
	}

	confidentUEBA, lowConfidenceUEBA := false, false
	for _, d := range in.UEBADeviations {
		if d.Deviation <= 0 {
			continue
		}
		if d.LowConfidence {
			lowConfidenceUEBA = true
		} else {
			confidentUEBA = true
		}
	}

	if hasRuleHit {
		addSource("rule_hits")
	}
	if anomalyFlagged {
		addSource("anomaly_flag")
	}
	if confidentUEBA {
		addSource("ueba_confident")
	}
	if hasSigma {
		addSource("sigma_match")
	}

	onlyLowConfidence := lowConfidenceUEBA && !hasRuleHit && !anomalyFlagged && !confidentUEBA && !hasSigma
	if onlyLowConfidence {
		factors = append(factors, models.Signal{
			Name: "low_confidence_only", Value: 1, Weight: -lowConfidencePenalty, Contribution: -lowConfidencePenalty,
		})
	}

	return factors
}

func maxAnomalyScore(signals []models.AnomalySignal) float64 {
	best := 0.0
	for _, s := range signals {
		if s.Score > best {
			best = s.Score
		}
	}
	return best
}

// uebaValue squashes the strongest deviation into [0,1), discounted when
// that deviation comes from a thin baseline.
func uebaValue(devs []models.UEBADeviation) float64 {
	best := 0.0
	for _, d := range devs {
		v := d.Deviation / (d.Deviation + deviationSquashScale)
		if d.LowConfidence {
			v *= lowConfidenceDiscount
		}
		if v > best {
			best = v
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
