package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/tokenwatch/tokenwatch/internal/conf"
	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
	"github.com/tokenwatch/tokenwatch/internal/metrics"
	"github.com/tokenwatch/tokenwatch/internal/notify"
)

// persistTimeout is the context deadline for appending fires and delivery
// records. Persistence uses its own context so outcomes are still written
// after the batch deadline expires.
const persistTimeout = 3 * time.Second

// BatchResult reports, per event, which configs fired and the terminal
// delivery status per channel.
type BatchResult struct {
	Events []EventResult
}

// EventResult is the evaluation outcome for one event.
type EventResult struct {
	EventID string
	Fires   []FireResult
}

// FireResult is the outcome for one (config, event) firing.
type FireResult struct {
	ConfigID       uint
	ConfigName     string
	FireID         string
	Suppressed     bool
	SuppressReason string
	Deliveries     []DeliveryOutcome
}

// DeliveryOutcome is the terminal status of one channel dispatch.
type DeliveryOutcome struct {
	Channel  string
	Status   string
	Attempts int
	Error    string
}

// Dispatcher abstracts the channel sender registry for testability.
// *notify.Registry is the production implementation.
type Dispatcher interface {
	Send(ctx context.Context, d notify.Dispatch) error
	TestChannel(ctx context.Context, channelType, destination, sampleMessage string) error
}

// Orchestrator coordinates matcher, throttle, router, and senders for
// incoming event batches, and records every terminal outcome in the
// alert event store before a batch returns.
type Orchestrator struct {
	matcher  *Matcher
	throttle throttleState
	router   *Router
	senders  Dispatcher
	store    eventStore
	cfg      conf.EngineConfig
	log      zerolog.Logger
}

// eventStore is the slice of the repository the orchestrator writes to.
type eventStore interface {
	AppendAlertFire(ctx context.Context, fire *entities.AlertFire) error
	AppendDeliveryRecord(ctx context.Context, record *entities.AlertDeliveryRecord) error
}

// throttleState is the slice of the throttle the orchestrator consults.
// *Throttle is the production implementation; the error returns exist
// for externally persisted state, and a state error must never suppress
// an alert.
type throttleState interface {
	ShouldFire(d *FireDecision) (bool, error)
	RecordFired(d *FireDecision, at time.Time) error
	SeenEvent(eventID string, d *FireDecision) (bool, error)
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(matcher *Matcher, throttle throttleState, router *Router, senders Dispatcher, store eventStore, cfg conf.EngineConfig, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		matcher:  matcher,
		throttle: throttle,
		router:   router,
		senders:  senders,
		store:    store,
		cfg:      cfg,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// ProcessBatch evaluates a batch of events against the given config
// snapshot using a worker pool. No evaluation or delivery error aborts
// the rest of the batch; the overall deadline fails outstanding sends
// with a timeout rather than leaving them pending.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []Event, configs []entities.AlertConfig) (*BatchResult, error) {
	deadline := o.cfg.BatchDeadline.Std()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(events) {
		workers = len(events)
	}

	results := make([]EventResult, len(events))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.processEvent(ctx, &events[i], configs)
			}
		}()
	}

	for i := range events {
		if ctx.Err() != nil {
			// Deadline hit: not-yet-started events are reported
			// unevaluated instead of blocking.
			results[i] = EventResult{EventID: events[i].ID}
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			results[i] = EventResult{EventID: events[i].ID}
		}
	}
	close(jobs)
	wg.Wait()

	return &BatchResult{Events: results}, nil
}

// processEvent runs the full pipeline for one event.
func (o *Orchestrator) processEvent(ctx context.Context, event *Event, configs []entities.AlertConfig) EventResult {
	metrics.EventsEvaluated.Inc()

	result := EventResult{EventID: event.ID}
	for _, decision := range o.matcher.Match(event, configs) {
		result.Fires = append(result.Fires, o.handleDecision(ctx, event, &decision, false))
	}
	return result
}

// handleDecision takes one fire decision through dedup, throttling,
// routing, and channel delivery. bypassThrottle is used by the manual
// trigger path.
func (o *Orchestrator) handleDecision(ctx context.Context, event *Event, d *FireDecision, bypassThrottle bool) FireResult {
	config := d.Config
	result := FireResult{
		ConfigID:   config.ID,
		ConfigName: config.Name,
		FireID:     uuid.NewString(),
	}

	suppressReason := ""
	if !bypassThrottle {
		seen, err := o.throttle.SeenEvent(event.ID, d)
		if err != nil {
			// Favor over-notification over silent alert loss.
			o.log.Warn().Err(err).Str("dedup_key", d.DedupKey).
				Msg("throttle state degraded, not suppressing")
			seen = false
		}
		if seen {
			suppressReason = SuppressDuplicate
		} else {
			ok, err := o.throttle.ShouldFire(d)
			if err != nil {
				o.log.Warn().Err(err).Str("dedup_key", d.DedupKey).
					Msg("throttle state degraded, not suppressing")
				ok = true
			}
			if !ok {
				suppressReason = SuppressThrottled
			}
		}
	}

	o.appendFire(d, result.FireID, event)

	if suppressReason != "" {
		result.Suppressed = true
		result.SuppressReason = suppressReason
		o.appendSuppressed(result.FireID, config.ID, suppressReason)
		metrics.AlertsSuppressed.WithLabelValues(suppressReason).Inc()
		return result
	}

	dispatches := o.router.Route(d, event)

	if !bypassThrottle {
		if err := o.throttle.RecordFired(d, time.Now()); err != nil {
			o.log.Warn().Err(err).Str("dedup_key", d.DedupKey).Msg("failed to record throttle state")
		}
	}

	if len(dispatches) == 0 {
		result.Suppressed = true
		result.SuppressReason = SuppressNoChannels
		o.appendSuppressed(result.FireID, config.ID, SuppressNoChannels)
		metrics.AlertsSuppressed.WithLabelValues(SuppressNoChannels).Inc()
		return result
	}

	metrics.AlertsFired.WithLabelValues(config.AlertType, config.Severity).Inc()
	o.log.Info().
		Uint("config_id", config.ID).
		Str("config", config.Name).
		Str("event_id", event.ID).
		Str("metric", d.Threshold.Metric).
		Float64("observed", d.Observed).
		Msg("alert fired")

	// Channels deliver concurrently and independently: one channel's
	// failure never blocks or rolls back the others.
	result.Deliveries = make([]DeliveryOutcome, len(dispatches))
	var wg sync.WaitGroup
	for i := range dispatches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result.Deliveries[i] = o.deliver(ctx, result.FireID, config.ID, dispatches[i])
		}(i)
	}
	wg.Wait()

	return result
}

// deliver sends one dispatch with retry and persists the terminal record.
// Transient failures retry with capped exponential backoff; configuration
// errors fail fast on the first attempt.
func (o *Orchestrator) deliver(ctx context.Context, fireID string, configID uint, dispatch notify.Dispatch) DeliveryOutcome {
	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := retry.NewExponential(o.retryBase())
	backoff = retry.WithCappedDuration(o.retryCap(), backoff)
	backoff = retry.WithMaxRetries(uint64(maxAttempts-1), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendErr := o.senders.Send(ctx, dispatch)
		if sendErr == nil {
			return nil
		}
		if notify.Retryable(sendErr) {
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})

	outcome := DeliveryOutcome{
		Channel:  dispatch.Channel,
		Attempts: attempts,
		Status:   entities.DeliverySent,
	}
	record := entities.AlertDeliveryRecord{
		FireID:       fireID,
		ConfigID:     configID,
		Channel:      dispatch.Channel,
		AttemptCount: attempts,
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("delivery timed out: " + err.Error())
		}
		outcome.Status = entities.DeliveryFailed
		outcome.Error = err.Error()
		record.Status = entities.DeliveryFailed
		record.LastError = err.Error()
	} else {
		now := time.Now()
		record.Status = entities.DeliverySent
		record.SentAt = &now
	}

	o.appendRecord(&record)
	metrics.Deliveries.WithLabelValues(dispatch.Channel, record.Status).Inc()
	return outcome
}

// appendFire persists the fire decision itself.
func (o *Orchestrator) appendFire(d *FireDecision, fireID string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to marshal event data")
		data = []byte("{}")
	}
	fire := entities.AlertFire{
		FireID:    fireID,
		ConfigID:  d.Config.ID,
		EventID:   d.EventID,
		DedupKey:  d.DedupKey,
		Metric:    d.Threshold.Metric,
		Operator:  d.Threshold.Operator,
		Threshold: d.Threshold.Value,
		Observed:  d.Observed,
		FiredAt:   d.FiredAt,
		EventData: string(data),
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.AppendAlertFire(ctx, &fire); err != nil {
		o.log.Error().Err(err).Str("fire_id", fireID).Msg("failed to append alert fire")
	}
}

// appendSuppressed persists the single channel-less record for a
// suppressed firing so it stays observable in history.
func (o *Orchestrator) appendSuppressed(fireID string, configID uint, reason string) {
	o.appendRecord(&entities.AlertDeliveryRecord{
		FireID:    fireID,
		ConfigID:  configID,
		Status:    entities.DeliverySuppressed,
		LastError: reason,
	})
}

func (o *Orchestrator) appendRecord(record *entities.AlertDeliveryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.AppendDeliveryRecord(ctx, record); err != nil {
		o.log.Error().Err(err).
			Str("fire_id", record.FireID).
			Str("channel", record.Channel).
			Msg("failed to append delivery record")
	}
}

func (o *Orchestrator) retryBase() time.Duration {
	if base := o.cfg.RetryBase.Std(); base > 0 {
		return base
	}
	return 500 * time.Millisecond
}

func (o *Orchestrator) retryCap() time.Duration {
	if c := o.cfg.RetryCap.Std(); c > 0 {
		return c
	}
	return 10 * time.Second
}
