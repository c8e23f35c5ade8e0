package features

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"riskgraph/pkg/models"
)

// Definition describes one behavioral feature as data. Adding a feature
// is a configuration change, not an aggregator change.
type Definition struct {
	Name string `yaml:"name"`
	// Kind is one of count, ratio, distinct.
	Kind string `yaml:"kind"`
	// TypeContains restricts matching to events whose type contains the
	// substring (case-insensitive). Empty matches every event.
	TypeContains string `yaml:"type_contains,omitempty"`
	// Flag selects a built-in predicate: failed_login, login, after_hours.
	Flag string `yaml:"flag,omitempty"`
	// Attribute names the event attribute counted by distinct features.
	// The special value event_type counts distinct event types.
	Attribute string `yaml:"attribute,omitempty"`
}

func (d Definition) matches(ev *models.Event) bool {
	switch d.Flag {
	case "failed_login":
		return ev.IsFailedLogin()
	case "login":
		return ev.IsLogin()
	case "after_hours":
		return ev.AfterHours()
	}
	if d.TypeContains != "" {
		return strings.Contains(strings.ToLower(ev.EventType), strings.ToLower(d.TypeContains))
	}
	return true
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("feature definition has no name")
	}
	switch d.Kind {
	case "count", "ratio":
	case "distinct":
		if strings.TrimSpace(d.Attribute) == "" {
			return fmt.Errorf("distinct feature %q needs an attribute", d.Name)
		}
	default:
		return fmt.Errorf("feature %q has unknown kind %q", d.Name, d.Kind)
	}
	switch d.Flag {
	case "", "failed_login", "login", "after_hours":
	default:
		return fmt.Errorf("feature %q has unknown flag %q", d.Name, d.Flag)
	}
	return nil
}

// DefaultDefinitions is the built-in feature set.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "event_count", Kind: "count"},
		{Name: "failed_login_count", Kind: "count", Flag: "failed_login"},
		{Name: "login_count", Kind: "count", Flag: "login"},
		{Name: "after_hours_ratio", Kind: "ratio", Flag: "after_hours"},
		{Name: "distinct_ip_count", Kind: "distinct", Attribute: "ip"},
		{Name: "distinct_device_count", Kind: "distinct", Attribute: "device"},
		{Name: "distinct_event_types", Kind: "distinct", Attribute: "event_type"},
	}
}

type definitionsFile struct {
	Features []Definition `yaml:"features"`
}

// LoadDefinitions reads extra feature definitions from a YAML file and
// appends them to the built-in set. Later names override earlier ones.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature definitions: %w", err)
	}
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse feature definitions: %w", err)
	}

	defs := DefaultDefinitions()
	for _, d := range f.Features {
		if err := d.validate(); err != nil {
			return nil, err
		}
		replaced := false
		for i := range defs {
			if defs[i].Name == d.Name {
				defs[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			defs = append(defs, d)
		}
	}
	return defs, nil
}

// Aggregator converts an entity's windowed events into a feature vector.
type Aggregator struct {
	defs   []Definition
	window time.Duration
}

// NewAggregator creates an aggregator over the given definitions.
func NewAggregator(defs []Definition, window time.Duration) (*Aggregator, error) {
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Aggregator{defs: defs, window: window}, nil
}

// Window returns the aggregation window length.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Aggregate computes the feature vector for an entity from its window
// snapshot at asOf. It is a pure function of its inputs; an empty
// snapshot yields the zero-valued vector, not an error.
func (a *Aggregator) Aggregate(entityID string, asOf time.Time, events []*models.Event) *models.FeatureVector {
	from := asOf.Add(-a.window)

	scoped := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		if ev.EntityID != entityID {
			continue
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(asOf) {
			continue
		}
		scoped = append(scoped, ev)
	}

	values := make(map[string]float64, len(a.defs))
	for _, d := range a.defs {
		values[d.Name] = a.compute(d, scoped)
	}

	return &models.FeatureVector{EntityID: entityID, AsOf: asOf, Values: values}
}

func (a *Aggregator) compute(d Definition, events []*models.Event) float64 {
	switch d.Kind {
	case "count":
		n := 0
		for _, ev := range events {
			if d.matches(ev) {
				n++
			}
		}
		return float64(n)
	case "ratio":
		if len(events) == 0 {
			return 0
		}
		n := 0
		for _, ev := range events {
			if d.matches(ev) {
				n++
			}
		}
		return float64(n) / float64(len(events))
	case "distinct":
		seen := make(map[string]struct{}, 8)
		for _, ev := range events {
			if !d.matches(ev) {
				continue
			}
			var v string
			if d.Attribute == "event_type" {
				v = ev.EventType
			} else {
				v = ev.Attr(d.Attribute)
			}
			if v != "" {
				seen[v] = struct{}{}
			}
		}
		return float64(len(seen))
	}
	return 0
}
