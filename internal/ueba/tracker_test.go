package ueba

import (
	"sync"
	"testing"
	"time"

	"riskgraph/pkg/models"
)

func vector(entity string, at time.Time, values map[string]float64) *models.FeatureVector {
	return &models.FeatureVector{EntityID: entity, AsOf: at, Values: values}
}

func TestEvaluateAndObserveScoresBeforeUpdating(t *testing.T) {
	tr := NewTracker(Config{MinConfidenceSamples: 2})
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// First observation has no baseline to score against.
	first := tr.EvaluateAndObserve(vector("alice", t0, map[string]float64{"f": 10}))
	if first.Deviation != 0 {
		t.Fatalf("expected zero deviation without baseline, got %f", first.Deviation)
	}
	if first.EffectiveSamples != 0 {
		t.Fatalf("expected pre-observation sample count 0, got %f", first.EffectiveSamples)
	}
	if !first.LowConfidence {
		t.Fatalf("expected low confidence on empty baseline")
	}

	// An identical vector deviates by nothing.
	same := tr.EvaluateAndObserve(vector("alice", t0.Add(time.Minute), map[string]float64{"f": 10}))
	if same.Deviation != 0 {
		t.Fatalf("expected zero deviation for identical vector, got %f", same.Deviation)
	}

	// A shifted vector is scored against the pre-observation baseline;
	// observing it must not soften its own score. The next identical
	// shift scores lower because the first one moved the mean.
	shift1 := tr.EvaluateAndObserve(vector("alice", t0.Add(2*time.Minute), map[string]float64{"f": 20}))
	shift2 := tr.EvaluateAndObserve(vector("alice", t0.Add(3*time.Minute), map[string]float64{"f": 20}))
	if shift1.Deviation <= 0 {
		t.Fatalf("expected positive deviation for shifted vector")
	}
	if shift2.Deviation >= shift1.Deviation {
		t.Fatalf("expected second shift to score lower: first=%f second=%f", shift1.Deviation, shift2.Deviation)
	}
}

func TestLowConfidenceClearsAfterMinSamples(t *testing.T) {
	tr := NewTracker(Config{MinConfidenceSamples: 3})
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		dev := tr.Evaluate(vector("alice", t0, map[string]float64{"f": 5}))
		if !dev.LowConfidence {
			t.Fatalf("expected low confidence before %d observations", 3)
		}
		tr.EvaluateAndObserve(vector("alice", t0, map[string]float64{"f": 5}))
	}

	dev := tr.Evaluate(vector("alice", t0.Add(time.Hour), map[string]float64{"f": 5}))
	if dev.LowConfidence {
		t.Fatalf("expected confident baseline after 3 observations, samples=%f", dev.EffectiveSamples)
	}
	if dev.Confidence <= 0 || dev.Confidence >= 1 {
		t.Fatalf("confidence must be in (0,1), got %f", dev.Confidence)
	}
}

func TestBaselineDecayHalvesOldWeight(t *testing.T) {
	halfLife := 7 * 24 * time.Hour
	b := NewBaseline("alice")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b = b.Observe(vector("alice", t0, map[string]float64{"f": 10}), halfLife)
	if b.EffectiveSamples != 1 {
		t.Fatalf("expected 1 effective sample, got %f", b.EffectiveSamples)
	}

	b = b.Observe(vector("alice", t0.Add(halfLife), map[string]float64{"f": 10}), halfLife)
	if got, want := b.EffectiveSamples, 1.5; !closeTo(got, want, 1e-9) {
		t.Fatalf("expected %f effective samples after one half-life, got %f", want, got)
	}
}

func TestObserveReturnsNewVersionAndKeepsSnapshot(t *testing.T) {
	halfLife := 7 * 24 * time.Hour
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b1 := NewBaseline("alice").Observe(vector("alice", t0, map[string]float64{"f": 10}), halfLife)
	b2 := b1.Observe(vector("alice", t0.Add(time.Hour), map[string]float64{"f": 30}), halfLife)

	if b2.Version != b1.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", b1.Version, b2.Version)
	}
	if b1.Mean("f") != 10 {
		t.Fatalf("observe mutated the prior snapshot: mean=%f", b1.Mean("f"))
	}
	if b2.Mean("f") <= b1.Mean("f") {
		t.Fatalf("expected mean to move toward new value, got %f", b2.Mean("f"))
	}
}

func TestStdIsFloored(t *testing.T) {
	halfLife := 7 * 24 * time.Hour
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b := NewBaseline("alice")
	for i := 0; i < 5; i++ {
		b = b.Observe(vector("alice", t0.Add(time.Duration(i)*time.Hour), map[string]float64{"f": 7}), halfLife)
	}
	if got := b.Std("f"); got != minStd {
		t.Fatalf("constant history should floor std at %g, got %g", minStd, got)
	}
}

func closeTo(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestEvaluateAndObserveConcurrentObservationsAllLand(t *testing.T) {
	tr := NewTracker(Config{})
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	const observers = 16
	var wg sync.WaitGroup
	for i := 0; i < observers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.EvaluateAndObserve(vector("alice", at, map[string]float64{"event_count": 1}))
		}()
	}
	wg.Wait()

	b := tr.BaselineFor("alice")
	if b.EffectiveSamples != observers {
		t.Fatalf("expected %d effective samples, got %v", observers, b.EffectiveSamples)
	}
}
