package alerting

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// Matcher evaluates events against alert configs. Filter matching is
// string equality over event dimensions; thresholds compare a metric (or
// its window aggregate) against the configured value. Matching is total:
// malformed configs and missing fields yield non-matches, never errors.
type Matcher struct {
	windows      *WindowTracker
	aggregations map[string]string
	log          zerolog.Logger
}

// NewMatcher creates a Matcher. aggregations maps metric names to
// AggregationSum or AggregationAvg; unknown metrics aggregate as sum.
func NewMatcher(aggregations map[string]string, log zerolog.Logger) *Matcher {
	return &Matcher{
		windows:      NewWindowTracker(),
		aggregations: aggregations,
		log:          log.With().Str("component", "matcher").Logger(),
	}
}

// Match returns one decision per enabled config whose filters match the
// event and whose thresholds (OR-combined) are satisfied. Each decision
// carries the first threshold that fired in sort order; remaining
// thresholds of the same config are not re-evaluated in the same pass.
func (m *Matcher) Match(event *Event, configs []entities.AlertConfig) []FireDecision {
	var decisions []FireDecision
	for i := range configs {
		config := &configs[i]
		if !config.Enabled {
			continue
		}
		if decision, ok := m.evalConfig(event, config); ok {
			decisions = append(decisions, decision)
		}
	}
	return decisions
}

// evalConfig evaluates one config against one event. An unexpected panic
// during evaluation skips this config only; the batch continues.
func (m *Matcher) evalConfig(event *Event, config *entities.AlertConfig) (decision FireDecision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Uint("config_id", config.ID).
				Str("event_id", event.ID).
				Any("panic", r).
				Msg("config evaluation panicked, skipping config")
			ok = false
		}
	}()

	if !filtersMatch(config.Filters, event) {
		return FireDecision{}, false
	}

	dedupKey := DedupKey(config, event)
	m.recordSamples(dedupKey, config.Thresholds, event)

	thresholds := make([]entities.AlertThreshold, len(config.Thresholds))
	copy(thresholds, config.Thresholds)
	sort.SliceStable(thresholds, func(i, j int) bool {
		return thresholds[i].SortOrder < thresholds[j].SortOrder
	})

	for i := range thresholds {
		if observed, fired := m.thresholdSatisfied(dedupKey, &thresholds[i], event); fired {
			return FireDecision{
				Config:    config,
				Threshold: thresholds[i],
				EventID:   event.ID,
				Observed:  observed,
				DedupKey:  dedupKey,
				FiredAt:   event.Timestamp,
			}, true
		}
	}
	return FireDecision{}, false
}

// filtersMatch applies a config's dimension filters. Every declared
// filter must equal the event's dimension; a missing dimension fails
// closed.
func filtersMatch(filters []entities.AlertFilter, event *Event) bool {
	for i := range filters {
		value, ok := event.Dimension(filters[i].Field)
		if !ok || value != filters[i].Value {
			return false
		}
	}
	return true
}

// recordSamples feeds the event's metric values into the window tracker,
// once per distinct metric referenced by a sustained threshold, so later
// aggregate evaluation sees this event.
func (m *Matcher) recordSamples(dedupKey string, thresholds []entities.AlertThreshold, event *Event) {
	recorded := make(map[string]bool, len(thresholds))
	for i := range thresholds {
		metric := thresholds[i].Metric
		if thresholds[i].DurationMin <= 0 || recorded[metric] {
			continue
		}
		if value, ok := event.Metric(metric); ok {
			m.windows.Record(seriesKey(dedupKey, metric), value, event.Timestamp)
		}
		recorded[metric] = true
	}
}

// thresholdSatisfied evaluates one threshold. Instantaneous thresholds
// compare the event's own metric value; sustained thresholds compare the
// window aggregate ending at the event's timestamp.
func (m *Matcher) thresholdSatisfied(dedupKey string, threshold *entities.AlertThreshold, event *Event) (float64, bool) {
	if threshold.DurationMin <= 0 {
		value, ok := event.Metric(threshold.Metric)
		if !ok {
			return 0, false
		}
		return value, compareFloat(value, threshold.Operator, threshold.Value)
	}

	window := time.Duration(threshold.DurationMin) * time.Minute
	aggregate, count := m.windows.Aggregate(
		seriesKey(dedupKey, threshold.Metric),
		m.aggregationFor(threshold.Metric),
		window,
		event.Timestamp,
	)
	if count == 0 {
		return 0, false
	}
	return aggregate, compareFloat(aggregate, threshold.Operator, threshold.Value)
}

func (m *Matcher) aggregationFor(metric string) string {
	if kind, ok := m.aggregations[metric]; ok {
		return kind
	}
	return AggregationSum
}

// compareFloat applies a threshold operator with strict semantics.
// Unknown operators never match.
func compareFloat(value float64, operator string, threshold float64) bool {
	switch operator {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	case OperatorEqual:
		return value == threshold
	default:
		return false
	}
}
