package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/conf"
	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
	"github.com/tokenwatch/tokenwatch/internal/datastore/repository"
)

const (
	// cleanupInterval is how often the history retention goroutine runs.
	cleanupInterval = time.Hour
	// cleanupTimeout is the context deadline for a retention sweep.
	cleanupTimeout = 5 * time.Second
)

// Engine is the top-level alert evaluation and delivery engine. It owns a
// periodically refreshed read-only snapshot of the active alert configs
// and drives the orchestrator pipeline for each incoming batch.
type Engine struct {
	configRepo   repository.AlertConfigRepository
	store        repository.AlertEventStore
	orchestrator *Orchestrator
	cfg          conf.EngineConfig
	log          zerolog.Logger

	// Config snapshot (swapped atomically on refresh)
	snapshot   []entities.AlertConfig
	snapshotMu sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates an Engine. Call Refresh (or Start) before processing
// batches so the config snapshot is populated.
func NewEngine(configRepo repository.AlertConfigRepository, store repository.AlertEventStore, senders Dispatcher, cfg conf.EngineConfig, log zerolog.Logger) *Engine {
	matcher := NewMatcher(cfg.Aggregations, log)
	throttle := NewThrottle(cfg.DefaultCooldown.Std())
	router := NewRouter(log)
	return &Engine{
		configRepo:   configRepo,
		store:        store,
		orchestrator: NewOrchestrator(matcher, throttle, router, senders, store, cfg, log),
		cfg:          cfg,
		log:          log.With().Str("component", "engine").Logger(),
		stopCh:       make(chan struct{}),
	}
}

// Refresh reloads the active config snapshot from the config store.
// Readers always see either the old or the new snapshot, never a partial
// one.
func (e *Engine) Refresh(ctx context.Context) error {
	configs, err := e.configRepo.ListActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("refresh config snapshot: %w", err)
	}
	e.snapshotMu.Lock()
	e.snapshot = configs
	e.snapshotMu.Unlock()
	e.log.Debug().Int("configs", len(configs)).Msg("config snapshot refreshed")
	return nil
}

// Snapshot returns the current config snapshot.
func (e *Engine) Snapshot() []entities.AlertConfig {
	e.snapshotMu.RLock()
	defer e.snapshotMu.RUnlock()
	configs := make([]entities.AlertConfig, len(e.snapshot))
	copy(configs, e.snapshot)
	return configs
}

// ProcessBatch evaluates a micro-batch of usage events against the
// current snapshot and delivers any resulting notifications. Called by
// the external metrics processor.
func (e *Engine) ProcessBatch(ctx context.Context, events []Event) (*BatchResult, error) {
	return e.orchestrator.ProcessBatch(ctx, events, e.Snapshot())
}

// TestChannel exercises one channel sender directly with a sample
// message, bypassing matching and throttling.
func (e *Engine) TestChannel(ctx context.Context, channelType, destination, sampleMessage string) error {
	return e.orchestrator.senders.TestChannel(ctx, channelType, destination, sampleMessage)
}

// TestFireConfig fires a config's channels directly with a synthetic
// event, bypassing matching and throttling. Used by the manual trigger
// surface.
func (e *Engine) TestFireConfig(ctx context.Context, configID uint) (FireResult, error) {
	config, err := e.configRepo.GetConfig(ctx, configID)
	if err != nil {
		return FireResult{}, err
	}

	event := &Event{
		ID:         "test-" + time.Now().UTC().Format("20060102T150405Z"),
		Timestamp:  time.Now(),
		Dimensions: map[string]string{"test": "true"},
		Metrics:    map[string]float64{},
	}
	var threshold entities.AlertThreshold
	if len(config.Thresholds) > 0 {
		threshold = config.Thresholds[0]
	}
	decision := &FireDecision{
		Config:    config,
		Threshold: threshold,
		EventID:   event.ID,
		DedupKey:  DedupKey(config, event),
		FiredAt:   event.Timestamp,
	}
	return e.orchestrator.handleDecision(ctx, event, decision, true), nil
}

// Start launches the snapshot refresh and history retention goroutines
// after performing an initial refresh.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Refresh(ctx); err != nil {
		return err
	}

	interval := e.cfg.RefreshInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	e.wg.Add(1)
	go e.refreshLoop(interval)

	if e.cfg.RetentionDays > 0 {
		e.wg.Add(1)
		go e.cleanupLoop(e.cfg.RetentionDays)
	}

	e.log.Info().
		Int("configs", len(e.Snapshot())).
		Dur("refresh_interval", interval).
		Msg("alert engine started")
	return nil
}

// Stop shuts down background goroutines. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}

func (e *Engine) refreshLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := e.Refresh(ctx); err != nil {
				e.log.Error().Err(err).Msg("config snapshot refresh failed")
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) cleanupLoop(retentionDays int) {
	defer e.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			deleted, err := e.store.DeleteFiresBefore(ctx, cutoff)
			cancel()
			if err != nil {
				e.log.Error().Err(err).Msg("alert history cleanup failed")
			} else if deleted > 0 {
				e.log.Info().
					Int64("deleted", deleted).
					Int("retention_days", retentionDays).
					Msg("alert history cleanup completed")
			}
		case <-e.stopCh:
			return
		}
	}
}
