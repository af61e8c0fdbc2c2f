package alerting

import "time"

// Event is an immutable usage fact produced by the metrics processor:
// one LLM call (or a pre-aggregated slice of calls) with its string
// dimensions and numeric metrics. The engine never mutates events.
type Event struct {
	ID         string             `json:"event_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Dimensions map[string]string  `json:"dimensions"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Dimension looks up a dimension field. A miss is a normal outcome for
// filter evaluation, never an error.
func (e *Event) Dimension(name string) (string, bool) {
	v, ok := e.Dimensions[name]
	return v, ok
}

// Metric looks up a numeric metric. A miss is a normal outcome for
// threshold evaluation, never an error.
func (e *Event) Metric(name string) (float64, bool) {
	v, ok := e.Metrics[name]
	return v, ok
}
