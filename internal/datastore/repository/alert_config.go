package repository

import (
	"context"
	"errors"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// ErrAlertConfigNotFound is returned when a config lookup misses.
var ErrAlertConfigNotFound = errors.New("alert config not found")

// AlertConfigRepository handles alert config CRUD. The engine only reads
// through ListActiveConfigs; the write operations serve the external API
// layer, which is the sole writer of this data.
type AlertConfigRepository interface {
	ListConfigs(ctx context.Context, filter AlertConfigFilter) ([]entities.AlertConfig, error)
	GetConfig(ctx context.Context, id uint) (*entities.AlertConfig, error)
	CreateConfig(ctx context.Context, config *entities.AlertConfig) error
	UpdateConfig(ctx context.Context, config *entities.AlertConfig) error
	DeleteConfig(ctx context.Context, id uint) error
	ToggleConfig(ctx context.Context, id uint, enabled bool) error

	// ListActiveConfigs returns all enabled configs with filters,
	// thresholds, and channels preloaded. Polled by the engine on its
	// snapshot refresh interval.
	ListActiveConfigs(ctx context.Context) ([]entities.AlertConfig, error)
}

// AlertConfigFilter controls config listing queries.
type AlertConfigFilter struct {
	AlertType string
	Severity  string
	Enabled   *bool
	BuiltIn   *bool
}
