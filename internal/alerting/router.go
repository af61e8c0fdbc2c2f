package alerting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/notify"
)

// Router resolves which channels a fired alert goes to and builds the
// channel dispatches. Payload construction is total: malformed channel
// destinations are passed through untouched and rejected by the sender,
// which owns destination validation.
type Router struct {
	log zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{log: log.With().Str("component", "router").Logger()}
}

// Route builds one dispatch per enabled channel on the decision's config.
// A config with no enabled channels routes to nothing; the orchestrator
// records the firing as suppressed so it stays observable in history.
func (r *Router) Route(d *FireDecision, event *Event) []notify.Dispatch {
	config := d.Config
	title := fmt.Sprintf("[%s] %s", config.Severity, config.Name)
	message := buildMessage(d, event)

	channels := make([]int, 0, len(config.Channels))
	for i := range config.Channels {
		if config.Channels[i].Enabled {
			channels = append(channels, i)
		}
	}
	sort.SliceStable(channels, func(a, b int) bool {
		return config.Channels[channels[a]].SortOrder < config.Channels[channels[b]].SortOrder
	})

	dispatches := make([]notify.Dispatch, 0, len(channels))
	for _, i := range channels {
		ch := &config.Channels[i]
		dispatches = append(dispatches, notify.Dispatch{
			Channel:     ch.Type,
			Destination: ch.Destination,
			Title:       title,
			Message:     message,
			Severity:    config.Severity,
		})
	}
	return dispatches
}

// buildMessage renders the human-readable alert body from the decision
// and the triggering event's key dimensions.
func buildMessage(d *FireDecision, event *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s alert %q fired: %s %s %s (observed %s)\n",
		alertTypeLabel(d.Config.AlertType), d.Config.Name,
		d.Threshold.Metric, d.Threshold.Operator,
		formatValue(d.Threshold.Value), formatValue(d.Observed))
	if d.Threshold.DurationMin > 0 {
		fmt.Fprintf(&b, "Sustained over %d minutes\n", d.Threshold.DurationMin)
	}

	if event != nil && len(event.Dimensions) > 0 {
		keys := make([]string, 0, len(event.Dimensions))
		for k := range event.Dimensions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+event.Dimensions[k])
		}
		b.WriteString(strings.Join(pairs, " "))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Event %s at %s", d.EventID, d.FiredAt.UTC().Format(time.RFC3339))
	return b.String()
}

func alertTypeLabel(alertType string) string {
	switch alertType {
	case AlertTypeCost:
		return "Cost"
	case AlertTypeErrorRate:
		return "Error rate"
	case AlertTypeLatency:
		return "Latency"
	default:
		return "Custom"
	}
}

func formatValue(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
