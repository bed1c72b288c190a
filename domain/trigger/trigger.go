// Package trigger defines EventTrigger: the mapping from domain events to
// DAG executions (spec §4.6).
package trigger

import "time"

// EventDataWhitelist restricts what an incoming event's data may contribute
// to a triggered DAG's input_config, so a trigger cannot smuggle policy
// overrides through attacker-controlled event fields (spec §4.6 step 2,
// SPEC_FULL.md §11.1).
var EventDataWhitelist = map[string]bool{
	"asset_id":     true,
	"asset_type":   true,
	"scan_task_id": true,
	"task_type":    true,
	"severity":     true,
	"target":       true,
	"source":       true,
}

// SafeEventData projects eventData down to the whitelisted keys.
func SafeEventData(eventData map[string]any) map[string]any {
	out := make(map[string]any, len(EventDataWhitelist))
	for k, v := range eventData {
		if EventDataWhitelist[k] {
			out[k] = v
		}
	}
	return out
}

type Counters struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type Trigger struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	EventType     string         `json:"event_type"`
	FilterConfig  map[string]any `json:"filter_config"`
	DAGTemplateID string         `json:"dag_template_id"`
	DAGConfig     map[string]any `json:"dag_config"`
	Enabled       bool           `json:"enabled"`
	TriggerCount  Counters       `json:"trigger_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MatchFilter implements spec §4.6 step 2: a scalar filter value requires
// equality, a list filter value requires membership, and a missing event
// key is never a match. An empty filter matches everything.
func MatchFilter(filter map[string]any, eventData map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := eventData[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []any:
			if !containsAny(w, got) {
				return false
			}
		default:
			if !equalScalar(want, got) {
				return false
			}
		}
	}
	return true
}

func containsAny(list []any, v any) bool {
	for _, item := range list {
		if equalScalar(item, v) {
			return true
		}
	}
	return false
}

func equalScalar(a, b any) bool {
	// JSON round-tripped numbers decode as float64; integers are converted
	// to float64 before comparing to avoid int/float64 mismatches between
	// stored filters and incoming event data.
	return toComparable(a) == toComparable(b)
}

func toComparable(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}

// InputConfig builds the new execution's input_config per spec §4.6 step 2:
// safe(event_data) merged with trigger.dag_config, with dag_config winning.
func InputConfig(eventData, dagConfig map[string]any) map[string]any {
	out := SafeEventData(eventData)
	for k, v := range dagConfig {
		out[k] = v
	}
	return out
}
