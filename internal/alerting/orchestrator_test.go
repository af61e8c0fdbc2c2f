package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenwatch/tokenwatch/internal/conf"
	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
	"github.com/tokenwatch/tokenwatch/internal/notify"
)

// memStore is an in-memory eventStore capturing appended rows.
type memStore struct {
	mu      sync.Mutex
	fires   []entities.AlertFire
	records []entities.AlertDeliveryRecord
}

func (s *memStore) AppendAlertFire(_ context.Context, fire *entities.AlertFire) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fires = append(s.fires, *fire)
	return nil
}

func (s *memStore) AppendDeliveryRecord(_ context.Context, record *entities.AlertDeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *memStore) recordsWithStatus(status string) []entities.AlertDeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.AlertDeliveryRecord
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// fakeDispatcher scripts per-channel send outcomes.
type fakeDispatcher struct {
	mu    sync.Mutex
	sends []notify.Dispatch
	fail  map[string]error // channel type → error returned on every attempt
	block bool             // block until ctx is done
}

func (f *fakeDispatcher) Send(ctx context.Context, d notify.Dispatch) error {
	f.mu.Lock()
	f.sends = append(f.sends, d)
	blocked := f.block
	err := f.fail[d.Channel]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeDispatcher) TestChannel(ctx context.Context, channelType, destination, sampleMessage string) error {
	return f.Send(ctx, notify.Dispatch{Channel: channelType, Destination: destination, Message: sampleMessage})
}

func (f *fakeDispatcher) sendCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, d := range f.sends {
		if d.Channel == channel {
			n++
		}
	}
	return n
}

func testEngineConfig() conf.EngineConfig {
	return conf.EngineConfig{
		Workers:         4,
		BatchDeadline:   conf.Duration(5 * time.Second),
		DefaultCooldown: conf.Duration(time.Minute),
		MaxAttempts:     3,
		RetryBase:       conf.Duration(time.Millisecond),
		RetryCap:        conf.Duration(2 * time.Millisecond),
		Aggregations:    map[string]string{MetricErrorRate: AggregationAvg},
	}
}

func newTestOrchestrator(dispatcher Dispatcher, store eventStore, cfg conf.EngineConfig) *Orchestrator {
	log := zerolog.Nop()
	return NewOrchestrator(
		NewMatcher(cfg.Aggregations, log),
		NewThrottle(cfg.DefaultCooldown.Std()),
		NewRouter(log),
		dispatcher,
		store,
		cfg,
		log,
	)
}

func emailConfig(id uint) entities.AlertConfig {
	config := costConfig(id, 10)
	config.Channels = []entities.AlertChannel{
		{Type: notify.ChannelEmail, Destination: `{"host":"smtp.example.com"}`, Enabled: true},
	}
	return config
}

func TestOrchestrator_EndToEndSentThenSuppressed(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())
	configs := []entities.AlertConfig{emailConfig(1)}

	first, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 15)}, configs)
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	require.Len(t, first.Events[0].Fires, 1)

	fire := first.Events[0].Fires[0]
	assert.False(t, fire.Suppressed)
	require.Len(t, fire.Deliveries, 1)
	assert.Equal(t, entities.DeliverySent, fire.Deliveries[0].Status)
	assert.Equal(t, 1, fire.Deliveries[0].Attempts)

	// Second matching event inside the cooldown window is suppressed.
	second, err := o.ProcessBatch(context.Background(), []Event{costEvent("e2", 20)}, configs)
	require.NoError(t, err)
	require.Len(t, second.Events[0].Fires, 1)
	assert.True(t, second.Events[0].Fires[0].Suppressed)
	assert.Equal(t, SuppressThrottled, second.Events[0].Fires[0].SuppressReason)

	assert.Len(t, store.recordsWithStatus(entities.DeliverySent), 1)
	suppressed := store.recordsWithStatus(entities.DeliverySuppressed)
	require.Len(t, suppressed, 1)
	assert.Equal(t, SuppressThrottled, suppressed[0].LastError)
	assert.Equal(t, 1, dispatcher.sendCount(notify.ChannelEmail))
}

func TestOrchestrator_ChannelFailureIsolated(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{fail: map[string]error{
		notify.ChannelEmail: errors.New("smtp connection refused"),
	}}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())

	config := emailConfig(1)
	config.Channels = append(config.Channels, entities.AlertChannel{
		Type: notify.ChannelWebhook, Destination: `{"url":"https://example.com"}`, Enabled: true,
	})

	result, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 15)}, []entities.AlertConfig{config})
	require.NoError(t, err)

	fire := result.Events[0].Fires[0]
	require.Len(t, fire.Deliveries, 2)

	byChannel := map[string]DeliveryOutcome{}
	for _, d := range fire.Deliveries {
		byChannel[d.Channel] = d
	}
	assert.Equal(t, entities.DeliveryFailed, byChannel[notify.ChannelEmail].Status)
	assert.Equal(t, 3, byChannel[notify.ChannelEmail].Attempts, "transient failures retry to the attempt ceiling")
	assert.Contains(t, byChannel[notify.ChannelEmail].Error, "smtp connection refused")
	assert.Equal(t, entities.DeliverySent, byChannel[notify.ChannelWebhook].Status)
	assert.Equal(t, 1, byChannel[notify.ChannelWebhook].Attempts)

	assert.Len(t, store.recordsWithStatus(entities.DeliveryFailed), 1)
	assert.Len(t, store.recordsWithStatus(entities.DeliverySent), 1)
}

func TestOrchestrator_ConfigErrorFailsFast(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{fail: map[string]error{
		notify.ChannelEmail: &notify.ConfigError{Reason: "email destination missing host"},
	}}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())

	result, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 15)}, []entities.AlertConfig{emailConfig(1)})
	require.NoError(t, err)

	fire := result.Events[0].Fires[0]
	require.Len(t, fire.Deliveries, 1)
	assert.Equal(t, entities.DeliveryFailed, fire.Deliveries[0].Status)
	assert.Equal(t, 1, fire.Deliveries[0].Attempts, "configuration errors must not be retried")
	assert.Contains(t, fire.Deliveries[0].Error, "missing host")
}

func TestOrchestrator_RedeliveredBatchIsIdempotent(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())
	configs := []entities.AlertConfig{emailConfig(1)}
	batch := []Event{costEvent("e1", 15)}

	_, err := o.ProcessBatch(context.Background(), batch, configs)
	require.NoError(t, err)

	// Upstream at-least-once delivery replays the identical batch.
	replay, err := o.ProcessBatch(context.Background(), batch, configs)
	require.NoError(t, err)

	fire := replay.Events[0].Fires[0]
	assert.True(t, fire.Suppressed)
	assert.Equal(t, SuppressDuplicate, fire.SuppressReason)
	assert.Len(t, store.recordsWithStatus(entities.DeliverySent), 1, "no duplicate SENT deliveries")
	assert.Equal(t, 1, dispatcher.sendCount(notify.ChannelEmail))
}

func TestOrchestrator_NoChannelsStillRecordsFiring(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())

	config := costConfig(1, 10) // no channels attached
	result, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 15)}, []entities.AlertConfig{config})
	require.NoError(t, err)

	fire := result.Events[0].Fires[0]
	assert.True(t, fire.Suppressed)
	assert.Equal(t, SuppressNoChannels, fire.SuppressReason)
	assert.Empty(t, fire.Deliveries)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.fires, 1, "firing stays observable in history")
	require.Len(t, store.records, 1)
	assert.Equal(t, entities.DeliverySuppressed, store.records[0].Status)
	assert.Empty(t, store.records[0].Channel)
}

func TestOrchestrator_BatchDeadlineFailsUnfinishedSends(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{block: true}
	cfg := testEngineConfig()
	cfg.BatchDeadline = conf.Duration(30 * time.Millisecond)
	o := newTestOrchestrator(dispatcher, store, cfg)

	result, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 15)}, []entities.AlertConfig{emailConfig(1)})
	require.NoError(t, err)

	fire := result.Events[0].Fires[0]
	require.Len(t, fire.Deliveries, 1)
	assert.Equal(t, entities.DeliveryFailed, fire.Deliveries[0].Status)
	assert.Contains(t, fire.Deliveries[0].Error, "timed out")

	// The record is terminal, never left pending.
	require.Len(t, store.recordsWithStatus(entities.DeliveryFailed), 1)
	assert.Empty(t, store.recordsWithStatus(entities.DeliveryPending))
}

func TestOrchestrator_EventsProcessConcurrentlyAndIndependently(t *testing.T) {
	store := &memStore{}
	dispatcher := &fakeDispatcher{fail: map[string]error{
		notify.ChannelWebhook: errors.New("upstream 503"),
	}}
	o := newTestOrchestrator(dispatcher, store, testEngineConfig())

	webhookConfig := costConfig(2, 10)
	webhookConfig.Name = "webhook alert"
	webhookConfig.Channels = []entities.AlertChannel{
		{Type: notify.ChannelWebhook, Destination: `{"url":"https://example.com"}`, Enabled: true},
	}
	configs := []entities.AlertConfig{emailConfig(1), webhookConfig}

	// Both events land in the same filter bucket. Workers may pick them
	// up in any order, but exactly one claims the cooldown per config.
	events := []Event{costEvent("e1", 15), costEvent("e2", 20)}

	result, err := o.ProcessBatch(context.Background(), events, configs)
	require.NoError(t, err)
	require.Len(t, result.Events, 2)

	assert.Len(t, store.recordsWithStatus(entities.DeliverySent), 1)
	assert.Len(t, store.recordsWithStatus(entities.DeliveryFailed), 1)
	assert.Len(t, store.recordsWithStatus(entities.DeliverySuppressed), 2)
}

// errThrottle fails every state operation, with adversarial values that
// would suppress if the errors were not honored.
type errThrottle struct{}

func (errThrottle) ShouldFire(*FireDecision) (bool, error) {
	return false, errors.New("throttle state unavailable")
}

func (errThrottle) RecordFired(*FireDecision, time.Time) error {
	return errors.New("throttle state unavailable")
}

func (errThrottle) SeenEvent(string, *FireDecision) (bool, error) {
	return true, errors.New("throttle state unavailable")
}

func TestOrchestrator_ThrottleStateErrorDoesNotSuppress(t *testing.T) {
	cfg := testEngineConfig()
	store := &memStore{}
	dispatcher := &fakeDispatcher{}
	log := zerolog.Nop()
	o := NewOrchestrator(NewMatcher(cfg.Aggregations, log), errThrottle{}, NewRouter(log), dispatcher, store, cfg, log)

	result, err := o.ProcessBatch(context.Background(), []Event{costEvent("e1", 50)}, []entities.AlertConfig{emailConfig(1)})
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	require.Len(t, result.Events[0].Fires, 1)
	fire := result.Events[0].Fires[0]
	assert.False(t, fire.Suppressed)
	require.Len(t, fire.Deliveries, 1)
	assert.Equal(t, entities.DeliverySent, fire.Deliveries[0].Status)
	assert.Empty(t, store.recordsWithStatus(entities.DeliverySuppressed))
	assert.Equal(t, 1, dispatcher.sendCount(notify.ChannelEmail))
}
