package correlate

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"riskgraph/pkg/models"
)

func event(entity, eventType string, at time.Time, attrs map[string]interface{}) *models.Event {
	return &models.Event{Timestamp: at, EntityID: entity, EventType: eventType, Attributes: attrs}
}

func newEngine(t *testing.T, window time.Duration) *Engine {
	t.Helper()
	rarity, err := NewRarityTracker(128, 2)
	if err != nil {
		t.Fatalf("failed to create rarity tracker: %v", err)
	}
	return NewEngine(Config{Window: window}, rarity)
}

func TestCorrelateChainsSameEntityWithinWindow(t *testing.T) {
	e := newEngine(t, 30*time.Minute)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// 0m, 20m, 40m: each consecutive gap is inside the window, so the
	// closure spans 40 minutes.
	events := []*models.Event{
		event("alice", "login_failed", t0, nil),
		event("alice", "login_failed", t0.Add(20*time.Minute), nil),
		event("alice", "login_success", t0.Add(40*time.Minute), nil),
	}

	incidents := e.Correlate(events)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	if len(incidents[0].Events) != 3 {
		t.Fatalf("expected 3 events in incident, got %d", len(incidents[0].Events))
	}
	if incidents[0].Status != models.StatusOpen {
		t.Fatalf("expected open status, got %s", incidents[0].Status)
	}
}

func TestCorrelateSplitsBeyondWindow(t *testing.T) {
	e := newEngine(t, 30*time.Minute)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []*models.Event{
		event("alice", "login_failed", t0, nil),
		event("alice", "login_failed", t0.Add(40*time.Minute), nil),
	}

	incidents := e.Correlate(events)
	if len(incidents) != 2 {
		t.Fatalf("expected 2 incidents for a 40 minute gap, got %d", len(incidents))
	}
}

func TestCorrelateIsIdempotentUnderShuffle(t *testing.T) {
	e := newEngine(t, 30*time.Minute)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var events []*models.Event
	for i := 0; i < 6; i++ {
		events = append(events, event("alice", "login_failed", t0.Add(time.Duration(i)*time.Minute), nil))
	}
	for i := 0; i < 4; i++ {
		events = append(events, event("bob", "file_access", t0.Add(2*time.Hour+time.Duration(i)*time.Minute), nil))
	}

	reference := e.Correlate(events)
	refIDs := incidentIDs(reference)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]*models.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := incidentIDs(e.Correlate(shuffled))
		if len(got) != len(refIDs) {
			t.Fatalf("trial %d: expected %d incidents, got %d", trial, len(refIDs), len(got))
		}
		for i := range refIDs {
			if got[i] != refIDs[i] {
				t.Fatalf("trial %d: incident IDs changed under shuffle: %v vs %v", trial, got, refIDs)
			}
		}
	}
}

func TestCorrelateBridgesRareSharedAttribute(t *testing.T) {
	e := newEngine(t, 30*time.Minute)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []*models.Event{
		event("alice", "login_failed", t0, map[string]interface{}{"ip": "203.0.113.7"}),
		event("bob", "login_failed", t0.Add(5*time.Minute), map[string]interface{}{"ip": "203.0.113.7"}),
	}

	incidents := e.Correlate(events)
	if len(incidents) != 1 {
		t.Fatalf("expected a bridged incident, got %d", len(incidents))
	}
	if len(incidents[0].EntityIDs) != 2 {
		t.Fatalf("expected 2 entities, got %v", incidents[0].EntityIDs)
	}
}

func TestCorrelateDoesNotBridgeCommonAttribute(t *testing.T) {
	e := newEngine(t, 30*time.Minute)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A NAT IP seen across many entities stops being a link.
	for i := 0; i < 20; i++ {
		e.Observe(event("worker", "login_success", t0, map[string]interface{}{"ip": "10.0.0.1"}))
	}

	events := []*models.Event{
		event("alice", "login_failed", t0, map[string]interface{}{"ip": "10.0.0.1"}),
		event("bob", "login_failed", t0.Add(5*time.Minute), map[string]interface{}{"ip": "10.0.0.1"}),
	}

	incidents := e.Correlate(events)
	if len(incidents) != 2 {
		t.Fatalf("expected no bridging over a common value, got %d incidents", len(incidents))
	}
}

func TestIncidentIDsAreDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	leader := event("alice", "login_failed", t0, nil)

	if incidentID(leader) != incidentID(leader) {
		t.Fatalf("incident ID not stable")
	}
	other := event("alice", "login_failed", t0.Add(time.Second), nil)
	if incidentID(leader) == incidentID(other) {
		t.Fatalf("distinct leaders must yield distinct IDs")
	}

	succ := SuccessorID(incidentID(leader))
	if succ == incidentID(leader) || succ != SuccessorID(incidentID(leader)) {
		t.Fatalf("successor ID must be stable and distinct")
	}
}

func incidentIDs(incidents []*models.Incident) []string {
	ids := make([]string, 0, len(incidents))
	for _, in := range incidents {
		ids = append(ids, in.IncidentID)
	}
	sort.Strings(ids)
	return ids
}
