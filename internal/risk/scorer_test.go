package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgraph/config"
	"riskgraph/pkg/models"
)

type fakeHistory map[string]time.Time

func (f fakeHistory) DeviceFirstSeen(entityID, device string) (time.Time, bool) {
	t, ok := f[entityID+"/"+device]
	return t, ok
}

func incidentWith(events []*models.Event) *models.Incident {
	entities := map[string]struct{}{}
	for _, ev := range events {
		entities[ev.EntityID] = struct{}{}
	}
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	return &models.Incident{
		IncidentID: "test-incident",
		EntityIDs:  ids,
		Events:     events,
		Status:     models.StatusOpen,
	}
}

func TestScoreContributionsSumToRisk(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	events := []*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(time.Minute), EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(2 * time.Minute), EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(3 * time.Minute), EntityID: "alice", EventType: "login_success",
			Attributes: map[string]interface{}{"device": "unknown-host"}},
	}

	history := fakeHistory{"alice/unknown-host": t0.Add(3 * time.Minute)}
	s := NewScorer(config.RiskConfig{}, history)

	in := incidentWith(events)
	in.AnomalySignals = []models.AnomalySignal{{EntityID: "alice", Score: 0.8, Flagged: true}}
	in.UEBADeviations = []models.UEBADeviation{{EntityID: "alice", Deviation: 6, Confidence: 0.7, EffectiveSamples: 12}}
	s.Score(in)

	require.NotEmpty(t, in.Signals)
	assert.InDelta(t, in.RiskScore, models.SumContributions(in.Signals), 0.01,
		"signal contributions must reconstruct the risk score")
	assert.GreaterOrEqual(t, in.RiskScore, 0.0)
	assert.LessOrEqual(t, in.RiskScore, 100.0)
	assert.Equal(t, models.StatusScored, in.Status)

	names := map[string]bool{}
	for _, sig := range in.Signals {
		names[sig.Name] = true
		assert.Greater(t, sig.Contribution, 0.0, sig.Name)
		assert.InDelta(t, sig.Value*sig.Weight, sig.Contribution, 1e-9, sig.Name)
	}
	assert.True(t, names[SignalFailedLoginBurst], "three failed logins in three minutes is a burst")
	assert.True(t, names[SignalNewDevice], "device first seen inside the window is new")
	assert.True(t, names[SignalAfterHours], "events at 23:30 are after hours")
	assert.True(t, names[SignalAnomaly])
	assert.True(t, names[SignalUEBA])
}

func TestBurstRequiresCountWithinWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	spread := []*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(20 * time.Minute), EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(40 * time.Minute), EntityID: "alice", EventType: "login_failed"},
	}
	assert.False(t, detectFailedLoginBurst(spread, 3, 10*time.Minute),
		"failures spread beyond the burst window are not a burst")

	tight := []*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(time.Minute), EntityID: "alice", EventType: "access_denied"},
		{Timestamp: t0.Add(2 * time.Minute), EntityID: "alice", EventType: "login_failed"},
	}
	assert.True(t, detectFailedLoginBurst(tight, 3, 10*time.Minute))

	crossEntity := []*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(time.Minute), EntityID: "bob", EventType: "login_failed"},
		{Timestamp: t0.Add(2 * time.Minute), EntityID: "carol", EventType: "login_failed"},
	}
	assert.False(t, detectFailedLoginBurst(crossEntity, 3, 10*time.Minute),
		"bursts are per entity")
}

func TestImpossibleTravel(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	geo := func(entity, place string, at time.Time) *models.Event {
		return &models.Event{Timestamp: at, EntityID: entity, EventType: "login_success",
			Attributes: map[string]interface{}{"geo": place}}
	}

	assert.True(t, detectImpossibleTravel([]*models.Event{
		geo("alice", "berlin", t0),
		geo("alice", "tokyo", t0.Add(30*time.Minute)),
	}, time.Hour))

	assert.False(t, detectImpossibleTravel([]*models.Event{
		geo("alice", "berlin", t0),
		geo("alice", "tokyo", t0.Add(3*time.Hour)),
	}, time.Hour), "slow location change is plausible travel")

	assert.False(t, detectImpossibleTravel([]*models.Event{
		geo("alice", "berlin", t0),
		geo("bob", "tokyo", t0.Add(30*time.Minute)),
	}, time.Hour), "travel is per entity")
}

func TestNewDeviceUsesHistory(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	login := &models.Event{Timestamp: t0, EntityID: "alice", EventType: "login_success",
		Attributes: map[string]interface{}{"device": "laptop-1"}}

	known := fakeHistory{"alice/laptop-1": t0.Add(-30 * 24 * time.Hour)}
	assert.False(t, detectNewDevice([]*models.Event{login}, known, t0))

	fresh := fakeHistory{"alice/laptop-1": t0}
	assert.True(t, detectNewDevice([]*models.Event{login}, fresh, t0))

	assert.False(t, detectNewDevice([]*models.Event{login}, nil, t0))
}

func TestFidelityLowConfidenceOnly(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := incidentWith([]*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "file_access"},
	})
	in.UEBADeviations = []models.UEBADeviation{{EntityID: "alice", Deviation: 1.5, LowConfidence: true}}

	s := NewScorer(config.RiskConfig{}, nil)
	s.Score(in)

	assert.InDelta(t, 20, in.FidelityScore, 0.01,
		"low-confidence-only evidence is base 30 minus the 10 point penalty")
	assert.InDelta(t, in.FidelityScore, models.SumContributions(in.FidelityFactors), 0.01)
}

func TestFidelityGrowsWithIndependentSources(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	in := incidentWith([]*models.Event{
		{Timestamp: t0, EntityID: "alice", EventType: "login_failed",
			RuleTags: []models.RuleTag{{ID: "r1", Name: "suspicious auth"}}},
		{Timestamp: t0.Add(time.Minute), EntityID: "alice", EventType: "login_failed"},
		{Timestamp: t0.Add(2 * time.Minute), EntityID: "alice", EventType: "login_failed"},
	})
	in.AnomalySignals = []models.AnomalySignal{{EntityID: "alice", Score: 0.9, Flagged: true}}
	in.UEBADeviations = []models.UEBADeviation{{EntityID: "alice", Deviation: 5, EffectiveSamples: 20}}

	s := NewScorer(config.RiskConfig{}, nil)
	s.Score(in)

	// base 30 + rule hits + anomaly flag + confident deviation + sigma match
	assert.InDelta(t, 90, in.FidelityScore, 0.01)
	assert.LessOrEqual(t, in.FidelityScore, 99.0)
}

func TestBuckets(t *testing.T) {
	assert.Equal(t, BucketLow, RiskBucket(0))
	assert.Equal(t, BucketMedium, RiskBucket(40))
	assert.Equal(t, BucketHigh, RiskBucket(70))
	assert.Equal(t, BucketCritical, RiskBucket(85))
	assert.Equal(t, BucketCritical, RiskBucket(100))

	assert.Equal(t, BucketLow, FidelityBucket(44))
	assert.Equal(t, BucketMedium, FidelityBucket(45))
	assert.Equal(t, BucketHigh, FidelityBucket(99))
}

func TestDefaultWeightsTotalStaysReconstructable(t *testing.T) {
	require.LessOrEqual(t, DefaultWeights.Total(), 100.0)
}
