package risk

import (
	"sort"
	"time"

	"riskgraph/pkg/models"
)

// DeviceHistory answers when a device was first observed for an entity.
// The ingestion buffer implements it from its retained windows.
type DeviceHistory interface {
	DeviceFirstSeen(entityID, device string) (time.Time, bool)
}

// detectFailedLoginBurst reports whether any entity in the incident
// produced at least count failed logins inside one sliding window.
func detectFailedLoginBurst(events []*models.Event, count int, window time.Duration) bool {
	byEntity := make(map[string][]time.Time, 4)
	for _, ev := range events {
		if ev.IsFailedLogin() {
			byEntity[ev.EntityID] = append(byEntity[ev.EntityID], ev.Timestamp)
		}
	}

	for _, stamps := range byEntity {
		if len(stamps) < count {
			continue
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
		for i := 0; i+count-1 < len(stamps); i++ {
			if stamps[i+count-1].Sub(stamps[i]) <= window {
				return true
			}
		}
	}
	return false
}

// detectAfterHours reports whether any incident event happened outside
// business hours.
func detectAfterHours(events []*models.Event) bool {
	for _, ev := range events {
		if ev.AfterHours() {
			return true
		}
	}
	return false
}

// detectNewDevice reports whether an entity authenticated from a device
// first observed inside the incident window.
func detectNewDevice(events []*models.Event, history DeviceHistory, windowStart time.Time) bool {
	if history == nil {
		return false
	}
	for _, ev := range events {
		if !ev.IsLogin() {
			continue
		}
		device := ev.Device()
		if device == "" {
			continue
		}
		first, ok := history.DeviceFirstSeen(ev.EntityID, device)
		if ok && !first.Before(windowStart) {
			return true
		}
	}
	return false
}

// detectImpossibleTravel reports whether an entity appeared in two
// different geo locations closer together than the travel gap.
func detectImpossibleTravel(events []*models.Event, gap time.Duration) bool {
	type sighting struct {
		at  time.Time
		geo string
	}
	byEntity := make(map[string][]sighting, 4)
	for _, ev := range events {
		if geo := ev.Attr("geo"); geo != "" {
			byEntity[ev.EntityID] = append(byEntity[ev.EntityID], sighting{at: ev.Timestamp, geo: geo})
		}
	}

	for _, sightings := range byEntity {
		sort.Slice(sightings, func(i, j int) bool { return sightings[i].at.Before(sightings[j].at) })
		for i := 1; i < len(sightings); i++ {
			prev, cur := sightings[i-1], sightings[i]
			if cur.geo != prev.geo && cur.at.Sub(prev.at) <= gap {
				return true
			}
		}
	}
	return false
}

// countRuleMatches sums detection rule tags across incident events.
func countRuleMatches(events []*models.Event) int {
	n := 0
	for _, ev := range events {
		n += len(ev.RuleTags)
	}
	return n
}
