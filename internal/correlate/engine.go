package correlate

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"riskgraph/internal/logger"
	"riskgraph/pkg/models"
)

// incidentNamespace seeds deterministic incident identifiers. Correlating
// the same event set always yields the same incident IDs.
var incidentNamespace = uuid.MustParse("7a0cbf5e-4f8f-4a53-9c16-2d3b0d6f9a41")

const defaultWindow = 30 * time.Minute

// Config controls event grouping.
type Config struct {
	// Window is the maximum gap between linked events of the same entity.
	Window time.Duration
	// BridgeAttributes are secondary attributes whose rare shared values
	// link events across entities.
	BridgeAttributes []string
}

// Engine groups events into incidents by transitive closure over two link
// relations: temporal proximity within one entity, and rare shared
// attribute values across entities. Grouping is a pure function of the
// event set and rarity state, independent of input order.
type Engine struct {
	cfg    Config
	rarity *RarityTracker
}

// NewEngine creates a correlation engine. The rarity tracker may be nil,
// which disables cross-entity bridging.
func NewEngine(cfg Config, rarity *RarityTracker) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if len(cfg.BridgeAttributes) == 0 {
		cfg.BridgeAttributes = []string{"ip", "device"}
	}
	return &Engine{cfg: cfg, rarity: rarity}
}

// Window returns the configured correlation window.
func (e *Engine) Window() time.Duration {
	return e.cfg.Window
}

// Observe feeds an event's bridge attribute values into the rarity
// tracker. Call on every accepted event so bridging rarity reflects the
// full stream, not only the correlated slice.
func (e *Engine) Observe(ev *models.Event) {
	if e.rarity == nil || ev == nil {
		return
	}
	for _, attr := range e.cfg.BridgeAttributes {
		e.rarity.Observe(attr, ev.Attr(attr))
	}
}

// Correlate partitions events into incident groups. Events of one entity
// link when their timestamps are within the window of a chain neighbor;
// events of different entities link when they share a rare bridge
// attribute value within the window. Both relations close transitively.
func (e *Engine) Correlate(events []*models.Event) []*models.Incident {
	if len(events) == 0 {
		return nil
	}

	ordered := append([]*models.Event(nil), events...)
	sortEvents(ordered)

	dsu := newUnionFind(len(ordered))

	// Same-entity chains: consecutive events of an entity within the
	// window merge, so a burst longer than the window still forms one
	// incident as long as no internal gap exceeds it.
	lastByEntity := make(map[string]int, 16)
	for i, ev := range ordered {
		if j, ok := lastByEntity[ev.EntityID]; ok {
			if ev.Timestamp.Sub(ordered[j].Timestamp) <= e.cfg.Window {
				dsu.union(i, j)
			}
		}
		lastByEntity[ev.EntityID] = i
	}

	// Cross-entity bridges on rare shared attribute values.
	if e.rarity != nil {
		for _, attr := range e.cfg.BridgeAttributes {
			lastByValue := make(map[string]int, 16)
			for i, ev := range ordered {
				value := ev.Attr(attr)
				if value == "" {
					continue
				}
				if j, ok := lastByValue[value]; ok {
					if ev.Timestamp.Sub(ordered[j].Timestamp) <= e.cfg.Window && e.rarity.IsRare(attr, value) {
						dsu.union(i, j)
					}
				}
				lastByValue[value] = i
			}
		}
	}

	groups := make(map[int][]*models.Event, 8)
	for i, ev := range ordered {
		root := dsu.find(i)
		groups[root] = append(groups[root], ev)
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	incidents := make([]*models.Incident, 0, len(roots))
	for _, root := range roots {
		incidents = append(incidents, e.buildIncident(groups[root]))
	}

	logger.Debugf("correlated %d events into %d incidents", len(ordered), len(incidents))
	return incidents
}

func (e *Engine) buildIncident(events []*models.Event) *models.Incident {
	entitySet := make(map[string]struct{}, 4)
	for _, ev := range events {
		entitySet[ev.EntityID] = struct{}{}
	}
	entities := make([]string, 0, len(entitySet))
	for id := range entitySet {
		entities = append(entities, id)
	}
	sort.Strings(entities)

	now := time.Now().UTC()
	return &models.Incident{
		IncidentID: incidentID(events[0]),
		EntityIDs:  entities,
		Events:     events,
		Status:     models.StatusOpen,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
}

// SuccessorID derives the deterministic ID of the follow-up incident
// opened when new events arrive for an already finalized incident.
func SuccessorID(finalizedID string) string {
	return uuid.NewSHA1(incidentNamespace, []byte(finalizedID+"|followup")).String()
}

// incidentID derives a stable identifier from the group's leading event.
func incidentID(leader *models.Event) string {
	key := leader.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + leader.EntityID + "|" + leader.EventType
	return uuid.NewSHA1(incidentNamespace, []byte(key)).String()
}

// sortEvents orders events by timestamp, then entity, then event type.
// This is the canonical order for grouping and incident event lists.
func sortEvents(events []*models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		if events[i].EntityID != events[j].EntityID {
			return events[i].EntityID < events[j].EntityID
		}
		return events[i].EventType < events[j].EventType
	})
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union merges two sets, keeping the smaller index as root so group
// leaders stay deterministic.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra > rb {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
