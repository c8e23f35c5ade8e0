package features

import (
	"testing"
	"time"

	"riskgraph/pkg/models"
)

func mustAggregator(t *testing.T, window time.Duration) *Aggregator {
	t.Helper()
	a, err := NewAggregator(DefaultDefinitions(), window)
	if err != nil {
		t.Fatalf("failed to create aggregator: %v", err)
	}
	return a
}

func TestAggregateEmptyWindowYieldsZeroVector(t *testing.T) {
	a := mustAggregator(t, 24*time.Hour)
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fv := a.Aggregate("alice", asOf, nil)
	if fv.EntityID != "alice" || !fv.AsOf.Equal(asOf) {
		t.Fatalf("unexpected vector identity: %+v", fv)
	}
	if len(fv.Values) != len(DefaultDefinitions()) {
		t.Fatalf("expected %d features, got %d", len(DefaultDefinitions()), len(fv.Values))
	}
	for name, v := range fv.Values {
		if v != 0 {
			t.Fatalf("expected zero value for %s, got %f", name, v)
		}
	}
}

func TestAggregateComputesDefaultFeatures(t *testing.T) {
	a := mustAggregator(t, 24*time.Hour)
	asOf := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return time.Date(2026, 3, 1, h, 0, 0, 0, time.UTC) }

	events := []*models.Event{
		{Timestamp: at(10), EntityID: "alice", EventType: "login_failed", Attributes: map[string]interface{}{"ip": "1.1.1.1"}},
		{Timestamp: at(11), EntityID: "alice", EventType: "login_failed", Attributes: map[string]interface{}{"ip": "2.2.2.2"}},
		{Timestamp: at(12), EntityID: "alice", EventType: "login_success", Attributes: map[string]interface{}{"ip": "1.1.1.1", "device": "laptop-1"}},
		{Timestamp: at(23), EntityID: "alice", EventType: "file_access"},
	}

	fv := a.Aggregate("alice", asOf, events)
	want := map[string]float64{
		"event_count":           4,
		"failed_login_count":    2,
		"login_count":           3,
		"after_hours_ratio":     0.25,
		"distinct_ip_count":     2,
		"distinct_device_count": 1,
		"distinct_event_types":  3,
	}
	for name, expected := range want {
		if got := fv.Get(name); got != expected {
			t.Fatalf("feature %s: expected %f, got %f", name, expected, got)
		}
	}
}

func TestAggregateScopesToEntityAndWindow(t *testing.T) {
	a := mustAggregator(t, time.Hour)
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*models.Event{
		{Timestamp: asOf.Add(-30 * time.Minute), EntityID: "alice", EventType: "login_success"},
		// outside the window
		{Timestamp: asOf.Add(-2 * time.Hour), EntityID: "alice", EventType: "login_success"},
		// future of asOf
		{Timestamp: asOf.Add(time.Minute), EntityID: "alice", EventType: "login_success"},
		// different entity
		{Timestamp: asOf.Add(-10 * time.Minute), EntityID: "bob", EventType: "login_success"},
	}

	fv := a.Aggregate("alice", asOf, events)
	if got := fv.Get("event_count"); got != 1 {
		t.Fatalf("expected event_count 1, got %f", got)
	}
}

func TestDefinitionValidation(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"count", Definition{Name: "x", Kind: "count"}, true},
		{"distinct needs attribute", Definition{Name: "x", Kind: "distinct"}, false},
		{"unknown kind", Definition{Name: "x", Kind: "sum"}, false},
		{"unknown flag", Definition{Name: "x", Kind: "count", Flag: "weekend"}, false},
		{"no name", Definition{Kind: "count"}, false},
	}
	for _, tc := range cases {
		err := tc.def.validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
