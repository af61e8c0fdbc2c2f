// Package alerting implements the alert evaluation and delivery engine:
// threshold matching, throttling, channel routing, and orchestration of
// notification dispatch for LLM usage events.
package alerting

// Alert types categorize what a config watches.
const (
	AlertTypeCost      = "COST"
	AlertTypeErrorRate = "ERROR_RATE"
	AlertTypeLatency   = "LATENCY"
	AlertTypeCustom    = "CUSTOM"
)

// Severities order alert urgency.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Threshold operators compare a metric (or its window aggregate) against
// the configured value.
const (
	OperatorGreaterThan    = ">"
	OperatorGreaterOrEqual = ">="
	OperatorLessThan       = "<"
	OperatorLessOrEqual    = "<="
	OperatorEqual          = "=="
)

// Aggregation kinds for sustained thresholds.
const (
	AggregationSum = "sum"
	AggregationAvg = "avg"
)

// Well-known event dimensions.
const (
	DimensionProvider    = "provider"
	DimensionModel       = "model"
	DimensionApplication = "application"
	DimensionEnvironment = "environment"
)

// Well-known event metrics.
const (
	MetricTotalCost        = "total_cost"
	MetricPromptTokens     = "prompt_tokens"
	MetricCompletionTokens = "completion_tokens"
	MetricTotalTokens      = "total_tokens"
	MetricLatencyMS        = "latency_ms"
	MetricErrorRate        = "error_rate"
	MetricError            = "error"
)

// Suppression reasons recorded on SUPPRESSED delivery records.
const (
	SuppressThrottled  = "throttle window active"
	SuppressDuplicate  = "duplicate event delivery"
	SuppressNoChannels = "no channels configured"
)
