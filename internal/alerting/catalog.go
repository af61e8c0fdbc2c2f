package alerting

import "github.com/tokenwatch/tokenwatch/internal/notify"

// Catalog describes the alert types, operators, metrics, and channel
// types available for config building. Consumed by the external API
// layer to render configuration forms.
type Catalog struct {
	AlertTypes []LabeledValue `json:"alertTypes"`
	Severities []LabeledValue `json:"severities"`
	Operators  []LabeledValue `json:"operators"`
	Metrics    []MetricInfo   `json:"metrics"`
	Channels   []LabeledValue `json:"channels"`
}

// LabeledValue pairs an identifier with a display label.
type LabeledValue struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// MetricInfo describes a well-known metric and its window aggregation.
type MetricInfo struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Unit        string `json:"unit"`
	Aggregation string `json:"aggregation"`
}

// GetCatalog returns the full configuration catalog.
func GetCatalog() Catalog {
	return Catalog{
		AlertTypes: []LabeledValue{
			{Value: AlertTypeCost, Label: "Cost"},
			{Value: AlertTypeErrorRate, Label: "Error Rate"},
			{Value: AlertTypeLatency, Label: "Latency"},
			{Value: AlertTypeCustom, Label: "Custom"},
		},
		Severities: []LabeledValue{
			{Value: SeverityLow, Label: "Low"},
			{Value: SeverityMedium, Label: "Medium"},
			{Value: SeverityHigh, Label: "High"},
			{Value: SeverityCritical, Label: "Critical"},
		},
		Operators: []LabeledValue{
			{Value: OperatorGreaterThan, Label: "greater than"},
			{Value: OperatorGreaterOrEqual, Label: "greater or equal"},
			{Value: OperatorLessThan, Label: "less than"},
			{Value: OperatorLessOrEqual, Label: "less or equal"},
			{Value: OperatorEqual, Label: "equal to"},
		},
		Metrics: []MetricInfo{
			{Name: MetricTotalCost, Label: "Total Cost", Unit: "USD", Aggregation: AggregationSum},
			{Name: MetricPromptTokens, Label: "Prompt Tokens", Unit: "tokens", Aggregation: AggregationSum},
			{Name: MetricCompletionTokens, Label: "Completion Tokens", Unit: "tokens", Aggregation: AggregationSum},
			{Name: MetricTotalTokens, Label: "Total Tokens", Unit: "tokens", Aggregation: AggregationSum},
			{Name: MetricLatencyMS, Label: "Latency", Unit: "ms", Aggregation: AggregationAvg},
			{Name: MetricErrorRate, Label: "Error Rate", Unit: "ratio", Aggregation: AggregationAvg},
		},
		Channels: []LabeledValue{
			{Value: notify.ChannelEmail, Label: "Email"},
			{Value: notify.ChannelChatWebhook, Label: "Chat Webhook"},
			{Value: notify.ChannelWebhook, Label: "Webhook"},
			{Value: notify.ChannelSMS, Label: "SMS"},
		},
	}
}
