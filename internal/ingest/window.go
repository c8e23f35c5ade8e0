package ingest

import (
	"sort"
	"time"

	"riskgraph/pkg/models"
)

// entityWindow holds the retained chronological event sequence for one
// entity. It is owned exclusively by the shard worker for that entity.
type entityWindow struct {
	events    []*models.Event
	watermark time.Time
	// first observation time per device, kept across window eviction so
	// a long-known device does not look new after old events age out.
	deviceFirstSeen map[string]time.Time
}

func newEntityWindow() *entityWindow {
	return &entityWindow{deviceFirstSeen: make(map[string]time.Time)}
}

// insert places an event at its chronological position. Ties keep arrival
// order so repeated ingestion of the same batch is stable.
func (w *entityWindow) insert(ev *models.Event) {
	if ev.Timestamp.After(w.watermark) {
		w.watermark = ev.Timestamp
	}
	if dev := ev.Device(); dev != "" {
		if first, ok := w.deviceFirstSeen[dev]; !ok || ev.Timestamp.Before(first) {
			w.deviceFirstSeen[dev] = ev.Timestamp
		}
	}

	n := len(w.events)
	if n == 0 || !ev.Timestamp.Before(w.events[n-1].Timestamp) {
		w.events = append(w.events, ev)
		return
	}
	idx := sort.Search(n, func(i int) bool {
		return w.events[i].Timestamp.After(ev.Timestamp)
	})
	w.events = append(w.events, nil)
	copy(w.events[idx+1:], w.events[idx:])
	w.events[idx] = ev
}

// prune evicts events older than the retention horizon.
func (w *entityWindow) prune(horizon time.Duration) {
	if horizon <= 0 || len(w.events) == 0 {
		return
	}
	cutoff := w.watermark.Add(-horizon)
	idx := 0
	for idx < len(w.events) && w.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.events = w.events[idx:]
	}
}

// slice returns the retained events within [from, to], inclusive.
func (w *entityWindow) slice(from, to time.Time) []*models.Event {
	out := make([]*models.Event, 0, len(w.events))
	for _, ev := range w.events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
