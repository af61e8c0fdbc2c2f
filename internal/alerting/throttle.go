package alerting

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

const (
	// defaultSweepInterval is how often expired throttle entries are
	// garbage collected. Sweeping is periodic so lookups stay O(1).
	defaultSweepInterval = time.Minute
	// fallbackCooldown is used when no cooldown is configured at all.
	fallbackCooldown = 5 * time.Minute
)

// Throttle suppresses repeated firings for the same dedup key inside a
// cooldown window, and deduplicates redelivered (event, config) pairs to
// protect against at-least-once upstream delivery. State is in-memory and
// resets on restart; entries expire with their cooldown and are evicted
// by a periodic sweep.
//
// The cooldown for a decision is the firing threshold's own sustained
// duration, with the configured default as the floor for instantaneous
// thresholds.
type Throttle struct {
	defaultCooldown time.Duration
	fired           *gocache.Cache
	seen            *gocache.Cache
}

// NewThrottle creates a Throttle with the given default cooldown.
func NewThrottle(defaultCooldown time.Duration) *Throttle {
	if defaultCooldown <= 0 {
		defaultCooldown = fallbackCooldown
	}
	return &Throttle{
		defaultCooldown: defaultCooldown,
		fired:           gocache.New(defaultCooldown, defaultSweepInterval),
		seen:            gocache.New(defaultCooldown, defaultSweepInterval),
	}
}

// ShouldFire reports whether the decision's dedup key is outside its
// cooldown window, atomically claiming the key when it is. The claim
// makes concurrent evaluations of the same key race-safe: exactly one
// observes true. The error return exists for externally persisted
// throttle state; the in-memory implementation cannot fail.
func (t *Throttle) ShouldFire(d *FireDecision) (bool, error) {
	err := t.fired.Add(d.DedupKey, d.FiredAt, t.cooldownFor(&d.Threshold))
	return err == nil, nil
}

// RecordFired refreshes the throttle window for a dispatched decision.
// Callers invoke it after the dispatch decision, not after delivery:
// suppression is about re-evaluation noise, not delivery success.
func (t *Throttle) RecordFired(d *FireDecision, at time.Time) error {
	t.fired.Set(d.DedupKey, at, t.cooldownFor(&d.Threshold))
	return nil
}

// SeenEvent atomically checks and marks an (event, config) pair. It
// returns true when the pair was already processed inside the cooldown
// window, i.e. the event is an upstream redelivery.
func (t *Throttle) SeenEvent(eventID string, d *FireDecision) (bool, error) {
	key := strconv.FormatUint(uint64(d.Config.ID), 10) + ":" + eventID
	err := t.seen.Add(key, struct{}{}, t.cooldownFor(&d.Threshold))
	return err != nil, nil
}

func (t *Throttle) cooldownFor(threshold *entities.AlertThreshold) time.Duration {
	if threshold.DurationMin > 0 {
		return time.Duration(threshold.DurationMin) * time.Minute
	}
	return t.defaultCooldown
}
