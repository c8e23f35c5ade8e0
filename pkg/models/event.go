package models

import (
	"fmt"
	"strings"
	"time"
)

// Event is one normalized security event from a SIEM/EDR source.
// Events are immutable once accepted into an entity window.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	EntityID   string                 `json:"entity_id"`
	EventType  string                 `json:"event_type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	RuleTags   []RuleTag              `json:"rule_tags,omitempty"`
}

// Attr returns an attribute value as a string.
func (e *Event) Attr(name string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	if v, ok := e.Attributes[name]; ok {
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		case int:
			return fmt.Sprintf("%d", val)
		case int64:
			return fmt.Sprintf("%d", val)
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val))
			}
			return fmt.Sprintf("%f", val)
		case bool:
			if val {
				return "true"
			}
			return "false"
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return ""
}

// IP returns the source IP attribute.
func (e *Event) IP() string {
	return e.Attr("ip")
}

// Device returns the device attribute.
func (e *Event) Device() string {
	return e.Attr("device")
}

// IsFailedLogin reports whether the event type denotes a failed authentication.
func (e *Event) IsFailedLogin() bool {
	t := strings.ToLower(e.EventType)
	return strings.Contains(t, "fail") || strings.Contains(t, "denied")
}

// IsLogin reports whether the event type denotes an authentication attempt.
func (e *Event) IsLogin() bool {
	return strings.Contains(strings.ToLower(e.EventType), "login")
}

// AfterHours reports whether the event occurred outside business hours.
func (e *Event) AfterHours() bool {
	h := e.Timestamp.Hour()
	return h < 6 || h > 22
}

// Record is the wire form accepted at the ingestion boundary.
type Record struct {
	Timestamp string                 `json:"timestamp"`
	User      string                 `json:"user"`
	IP        string                 `json:"ip,omitempty"`
	EventType string                 `json:"event_type"`
	Device    string                 `json:"device,omitempty"`
	Extra     map[string]interface{} `json:"attributes,omitempty"`
}

// Normalize validates a Record and converts it into an Event.
func (r Record) Normalize() (*Event, error) {
	if strings.TrimSpace(r.Timestamp) == "" {
		return nil, fmt.Errorf("missing required field: timestamp")
	}
	if strings.TrimSpace(r.User) == "" {
		return nil, fmt.Errorf("missing required field: user")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return nil, fmt.Errorf("missing required field: event_type")
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", r.Timestamp, err)
	}

	attrs := make(map[string]interface{}, len(r.Extra)+2)
	for k, v := range r.Extra {
		attrs[k] = v
	}
	if r.IP != "" {
		attrs["ip"] = r.IP
	}
	if r.Device != "" {
		attrs["device"] = r.Device
	}

	return &Event{
		Timestamp:  ts,
		EntityID:   strings.TrimSpace(r.User),
		EventType:  strings.TrimSpace(r.EventType),
		Attributes: attrs,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// RuleTag annotates an event with a matched detection rule.
type RuleTag struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// Rejection kinds for records that did not enter scoring.
const (
	RejectInvalidEvent = "invalid_event"
	RejectStaleEvent   = "stale_event"
)

// Rejection describes one rejected record. It carries enough context to
// reconstruct why the record did not contribute to scoring.
type Rejection struct {
	Index     int    `json:"index"`
	EntityID  string `json:"entity_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}
