package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
	"github.com/tokenwatch/tokenwatch/internal/datastore/repository"
)

// DefaultConfigs returns the built-in starter alert configs. They ship
// without channel destinations; users attach channels before they
// produce notifications, but firings are still recorded in history.
func DefaultConfigs() []entities.AlertConfig {
	return []entities.AlertConfig{
		{
			Name:        "Hourly spend spike",
			Description: "Fires when total spend across all providers exceeds $50 over an hour",
			Enabled:     true,
			BuiltIn:     true,
			AlertType:   AlertTypeCost,
			Severity:    SeverityHigh,
			Thresholds: []entities.AlertThreshold{
				{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 50, DurationMin: 60, SortOrder: 0},
			},
		},
		{
			Name:        "Expensive single call",
			Description: "Fires when one LLM call costs more than $5",
			Enabled:     true,
			BuiltIn:     true,
			AlertType:   AlertTypeCost,
			Severity:    SeverityMedium,
			Thresholds: []entities.AlertThreshold{
				{Metric: MetricTotalCost, Operator: OperatorGreaterThan, Value: 5, DurationMin: 0, SortOrder: 0},
			},
		},
		{
			Name:        "Elevated error rate",
			Description: "Fires when the provider error rate averages above 25% for 5 minutes",
			Enabled:     true,
			BuiltIn:     true,
			AlertType:   AlertTypeErrorRate,
			Severity:    SeverityCritical,
			Thresholds: []entities.AlertThreshold{
				{Metric: MetricErrorRate, Operator: OperatorGreaterThan, Value: 0.25, DurationMin: 5, SortOrder: 0},
			},
		},
		{
			Name:        "Slow responses",
			Description: "Fires when average latency exceeds 30 seconds for 10 minutes",
			Enabled:     true,
			BuiltIn:     true,
			AlertType:   AlertTypeLatency,
			Severity:    SeverityMedium,
			Thresholds: []entities.AlertThreshold{
				{Metric: MetricLatencyMS, Operator: OperatorGreaterThan, Value: 30000, DurationMin: 10, SortOrder: 0},
			},
		},
	}
}

// SeedDefaultConfigs ensures all built-in configs exist, checking by name
// so partial seeds from previous runs self-heal on restart.
func SeedDefaultConfigs(ctx context.Context, repo repository.AlertConfigRepository, log zerolog.Logger) error {
	existing, err := repo.ListConfigs(ctx, repository.AlertConfigFilter{})
	if err != nil {
		return err
	}
	existingNames := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingNames[existing[i].Name] = struct{}{}
	}

	defaults := DefaultConfigs()
	var created int
	for i := range defaults {
		if _, exists := existingNames[defaults[i].Name]; exists {
			continue
		}
		if err := repo.CreateConfig(ctx, &defaults[i]); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		log.Info().Int("created", created).Msg("seeded default alert configs")
	}
	return nil
}
