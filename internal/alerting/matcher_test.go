package alerting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

func testMatcher() *Matcher {
	return NewMatcher(map[string]string{
		MetricTotalCost: AggregationSum,
		MetricErrorRate: AggregationAvg,
		MetricLatencyMS: AggregationAvg,
	}, zerolog.Nop())
}

func costConfig(id uint, value float64) entities.AlertConfig {
	return entities.AlertConfig{
		ID:        id,
		Name:      "cost alert",
		Enabled:   true,
		AlertType: AlertTypeCost,
		Severity:  SeverityHigh,
		Filters: []entities.AlertFilter{
			{Field: DimensionProvider, Value: "openai"},
			{Field: DimensionModel, Value: "gpt-4"},
		},
		Thresholds: []entities.AlertThreshold{
			{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: value},
		},
	}
}

func costEvent(id string, cost float64) Event {
	return Event{
		ID:        id,
		Timestamp: time.Now(),
		Dimensions: map[string]string{
			DimensionProvider: "openai",
			DimensionModel:    "gpt-4",
		},
		Metrics: map[string]float64{MetricTotalCost: cost},
	}
}

func TestMatcher_FilterMismatchProducesNoDecision(t *testing.T) {
	m := testMatcher()
	configs := []entities.AlertConfig{costConfig(1, 10)}

	event := costEvent("e1", 15)
	event.Dimensions[DimensionModel] = "gpt-3.5-turbo"

	assert.Empty(t, m.Match(&event, configs))
}

func TestMatcher_MissingFilterFieldFailsClosed(t *testing.T) {
	m := testMatcher()
	configs := []entities.AlertConfig{costConfig(1, 10)}

	event := costEvent("e1", 15)
	delete(event.Dimensions, DimensionModel)

	assert.Empty(t, m.Match(&event, configs))
}

func TestMatcher_StrictOperatorSemantics(t *testing.T) {
	m := testMatcher()
	configs := []entities.AlertConfig{costConfig(1, 10)}

	above := costEvent("e1", 11)
	decisions := m.Match(&above, configs)
	require.Len(t, decisions, 1)
	assert.Equal(t, uint(1), decisions[0].Config.ID)
	assert.Equal(t, 11.0, decisions[0].Observed)

	equal := costEvent("e2", 10)
	assert.Empty(t, m.Match(&equal, configs), "strict > must not fire on equality")
}

func TestMatcher_OperatorTable(t *testing.T) {
	cases := []struct {
		operator  string
		value     float64
		threshold float64
		want      bool
	}{
		{OperatorGreaterThan, 11, 10, true},
		{OperatorGreaterThan, 10, 10, false},
		{OperatorGreaterOrEqual, 10, 10, true},
		{OperatorGreaterOrEqual, 9, 10, false},
		{OperatorLessThan, 9, 10, true},
		{OperatorLessThan, 10, 10, false},
		{OperatorLessOrEqual, 10, 10, true},
		{OperatorLessOrEqual, 11, 10, false},
		{OperatorEqual, 10, 10, true},
		{OperatorEqual, 10.5, 10, false},
		{"~=", 10, 10, false}, // unknown operator never matches
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, compareFloat(tc.value, tc.operator, tc.threshold),
			"%v %s %v", tc.value, tc.operator, tc.threshold)
	}
}

func TestMatcher_MissingMetricIsNonMatch(t *testing.T) {
	m := testMatcher()
	configs := []entities.AlertConfig{costConfig(1, 10)}

	event := costEvent("e1", 15)
	delete(event.Metrics, MetricTotalCost)

	assert.Empty(t, m.Match(&event, configs))
}

func TestMatcher_DisabledConfigSkipped(t *testing.T) {
	m := testMatcher()
	config := costConfig(1, 10)
	config.Enabled = false

	event := costEvent("e1", 15)
	assert.Empty(t, m.Match(&event, []entities.AlertConfig{config}))
}

func TestMatcher_FirstSatisfiedThresholdWins(t *testing.T) {
	m := testMatcher()
	config := costConfig(1, 10)
	config.Thresholds = []entities.AlertThreshold{
		{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 100, SortOrder: 0},
		{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 5, SortOrder: 1},
		{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 1, SortOrder: 2},
	}

	event := costEvent("e1", 15)
	decisions := m.Match(&event, []entities.AlertConfig{config})
	require.Len(t, decisions, 1, "one decision per config, not per threshold")
	assert.Equal(t, 5.0, decisions[0].Threshold.Value, "thresholds are OR-combined in sort order")
}

func TestMatcher_SustainedAverageTriggers(t *testing.T) {
	m := testMatcher()
	config := entities.AlertConfig{
		ID:        7,
		Name:      "error rate",
		Enabled:   true,
		AlertType: AlertTypeErrorRate,
		Severity:  SeverityCritical,
		Thresholds: []entities.AlertThreshold{
			{Metric: MetricErrorRate, Operator: OperatorGreaterThan, Value: 0.5, DurationMin: 5},
		},
	}
	configs := []entities.AlertConfig{config}
	base := time.Now().Add(-5 * time.Minute)

	// Five events over 5 minutes averaging 0.6
	rates := []float64{0.5, 0.7, 0.6, 0.5, 0.7}
	var last []FireDecision
	for i, rate := range rates {
		event := Event{
			ID:        "e" + string(rune('0'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Metrics:   map[string]float64{MetricErrorRate: rate},
		}
		last = m.Match(&event, configs)
	}
	require.Len(t, last, 1)
	assert.InDelta(t, 0.6, last[0].Observed, 1e-9)
}

func TestMatcher_SustainedAverageBelowThresholdDoesNotTrigger(t *testing.T) {
	m := testMatcher()
	config := entities.AlertConfig{
		ID:      7,
		Name:    "error rate",
		Enabled: true,
		Thresholds: []entities.AlertThreshold{
			{Metric: MetricErrorRate, Operator: OperatorGreaterThan, Value: 0.5, DurationMin: 5},
		},
	}
	configs := []entities.AlertConfig{config}
	base := time.Now().Add(-5 * time.Minute)

	for i, rate := range []float64{0.4, 0.5, 0.3, 0.4, 0.4} {
		event := Event{
			ID:        "e" + string(rune('0'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Metrics:   map[string]float64{MetricErrorRate: rate},
		}
		assert.Empty(t, m.Match(&event, configs))
	}
}

func TestMatcher_SustainedSumAccumulates(t *testing.T) {
	m := testMatcher()
	config := entities.AlertConfig{
		ID:      3,
		Name:    "hourly spend",
		Enabled: true,
		Thresholds: []entities.AlertThreshold{
			{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 10, DurationMin: 60},
		},
	}
	configs := []entities.AlertConfig{config}
	base := time.Now().Add(-30 * time.Minute)

	// 4 + 4 = 8, below threshold
	for i := range 2 {
		event := Event{
			ID:        "e" + string(rune('0'+i)),
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
			Metrics:   map[string]float64{MetricTotalCost: 4},
		}
		assert.Empty(t, m.Match(&event, configs))
	}

	// 8 + 4 = 12, crosses threshold
	event := Event{
		ID:        "e3",
		Timestamp: base.Add(25 * time.Minute),
		Metrics:   map[string]float64{MetricTotalCost: 4},
	}
	decisions := m.Match(&event, configs)
	require.Len(t, decisions, 1)
	assert.InDelta(t, 12.0, decisions[0].Observed, 1e-9)
}

func TestMatcher_SeparateFilterBucketsDoNotShareWindows(t *testing.T) {
	m := testMatcher()
	// Two configs with distinct filter values accumulate independently.
	cfgA := costConfig(10, 5)
	cfgA.Thresholds[0].DurationMin = 60
	cfgB := costConfig(11, 5)
	cfgB.Filters[1].Value = "gpt-3.5-turbo"
	cfgB.Thresholds[0].DurationMin = 60
	configs := []entities.AlertConfig{cfgA, cfgB}

	now := time.Now()
	a := Event{
		ID:        "a1",
		Timestamp: now,
		Dimensions: map[string]string{
			DimensionProvider: "openai",
			DimensionModel:    "gpt-4",
		},
		Metrics: map[string]float64{MetricTotalCost: 4},
	}
	assert.Empty(t, m.Match(&a, configs))

	b := Event{
		ID:        "b1",
		Timestamp: now,
		Dimensions: map[string]string{
			DimensionProvider: "openai",
			DimensionModel:    "gpt-3.5-turbo",
		},
		Metrics: map[string]float64{MetricTotalCost: 4},
	}
	// cfgB's window only holds b1's 4 dollars; cfgA's 4 dollars must not leak in.
	assert.Empty(t, m.Match(&b, configs))
}

func TestMatcher_DedupKeyStableAcrossFilterOrder(t *testing.T) {
	config := costConfig(9, 10)
	event := costEvent("e1", 1)

	key := DedupKey(&config, &event)

	reversed := costConfig(9, 10)
	reversed.Filters[0], reversed.Filters[1] = reversed.Filters[1], reversed.Filters[0]
	assert.Equal(t, key, DedupKey(&reversed, &event))
}

func TestMatcher_PanicEvaluatingOneConfigSkipsOnlyThatConfig(t *testing.T) {
	m := testMatcher()
	// Recording a sample for the sustained threshold dereferences the
	// tracker; a nil one panics inside evalConfig for that config only.
	m.windows = nil

	sustained := costConfig(1, 10)
	sustained.Thresholds = []entities.AlertThreshold{
		{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 10, DurationMin: 5},
	}
	instant := costConfig(2, 10)

	event := costEvent("e1", 15)
	decisions := m.Match(&event, []entities.AlertConfig{sustained, instant})

	require.Len(t, decisions, 1)
	assert.Equal(t, uint(2), decisions[0].Config.ID)
}
