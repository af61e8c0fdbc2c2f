package alerting

import (
	"sync"
	"time"
)

const (
	// maxSamplesPerSeries is the maximum number of samples retained per
	// (dedup key, metric) series.
	maxSamplesPerSeries = 1024
	// maxSampleAge is the maximum age of a sample before eviction. It
	// bounds the largest sustained window a threshold can use.
	maxSampleAge = 6 * time.Hour
)

// windowSample is a single timestamped metric value.
type windowSample struct {
	value     float64
	timestamp time.Time
}

// WindowTracker maintains rolling sample buffers per (dedup key, metric)
// series for evaluating sustained thresholds against a window aggregate.
type WindowTracker struct {
	series map[string][]windowSample
	mu     sync.RWMutex
}

// NewWindowTracker creates a new WindowTracker.
func NewWindowTracker() *WindowTracker {
	return &WindowTracker{
		series: make(map[string][]windowSample),
	}
}

// seriesKey scopes window samples to one config's filter bucket and metric.
func seriesKey(dedupKey, metric string) string {
	return dedupKey + "#" + metric
}

// Record adds a sample to a series and evicts stale entries.
func (t *WindowTracker) Record(key string, value float64, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := append(t.series[key], windowSample{value: value, timestamp: timestamp})

	cutoff := timestamp.Add(-maxSampleAge)
	start := 0
	for start < len(samples) && samples[start].timestamp.Before(cutoff) {
		start++
	}
	samples = samples[start:]

	if len(samples) > maxSamplesPerSeries {
		samples = samples[len(samples)-maxSamplesPerSeries:]
	}

	t.series[key] = samples
}

// Aggregate computes the sum or mean of the samples in the trailing
// window ending at now. The returned count is 0 when the window holds no
// samples, in which case the aggregate is meaningless and sustained
// thresholds must not fire.
func (t *WindowTracker) Aggregate(key, kind string, window time.Duration, now time.Time) (float64, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	windowStart := now.Add(-window)
	var sum float64
	var count int
	for _, s := range t.series[key] {
		if s.timestamp.Before(windowStart) || s.timestamp.After(now) {
			continue
		}
		sum += s.value
		count++
	}
	if count == 0 {
		return 0, 0
	}
	if kind == AggregationAvg {
		return sum / float64(count), count
	}
	return sum, count
}
