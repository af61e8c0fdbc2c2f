package alerting

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// FireDecision is the ephemeral result of a config matching an event: the
// config, the specific threshold that fired, and the dedup key used for
// throttling. Decisions are only valid within the evaluation pass that
// produced them; configs may change between batches.
type FireDecision struct {
	Config    *entities.AlertConfig
	Threshold entities.AlertThreshold
	EventID   string
	Observed  float64
	DedupKey  string
	FiredAt   time.Time
}

// DedupKey derives the throttling identity for a (config, event) pair:
// the config ID plus the event's values for the config's filter fields,
// in stable field order. Two events that land in the same filter bucket
// share a key and throttle together.
func DedupKey(config *entities.AlertConfig, event *Event) string {
	var b strings.Builder
	b.WriteString("cfg:")
	b.WriteString(strconv.FormatUint(uint64(config.ID), 10))

	fields := make([]string, 0, len(config.Filters))
	for i := range config.Filters {
		fields = append(fields, config.Filters[i].Field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		value, _ := event.Dimension(field)
		b.WriteString("|")
		b.WriteString(field)
		b.WriteString("=")
		b.WriteString(value)
	}
	return b.String()
}
