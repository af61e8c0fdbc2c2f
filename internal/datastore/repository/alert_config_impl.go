package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// alertConfigRepository implements AlertConfigRepository.
type alertConfigRepository struct {
	db *gorm.DB
}

// NewAlertConfigRepository creates a new AlertConfigRepository.
func NewAlertConfigRepository(db *gorm.DB) AlertConfigRepository {
	return &alertConfigRepository{db: db}
}

// ListConfigs returns alert configs matching the given filter.
func (r *alertConfigRepository) ListConfigs(ctx context.Context, filter AlertConfigFilter) ([]entities.AlertConfig, error) {
	var configs []entities.AlertConfig
	query := r.db.WithContext(ctx).Preload("Filters").Preload("Thresholds").Preload("Channels")

	if filter.AlertType != "" {
		query = query.Where("alert_type = ?", filter.AlertType)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert configs: %w", err)
	}
	return configs, nil
}

// GetConfig returns a single alert config by ID with its filters,
// thresholds, and channels. Returns ErrAlertConfigNotFound if the config
// does not exist.
func (r *alertConfigRepository) GetConfig(ctx context.Context, id uint) (*entities.AlertConfig, error) {
	var config entities.AlertConfig
	query := r.db.WithContext(ctx).Preload("Filters").Preload("Thresholds").Preload("Channels")
	if err := query.First(&config, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertConfigNotFound
		}
		return nil, fmt.Errorf("failed to get alert config %d: %w", id, err)
	}
	return &config, nil
}

// CreateConfig creates a new alert config with its child rows.
func (r *alertConfigRepository) CreateConfig(ctx context.Context, config *entities.AlertConfig) error {
	if err := r.db.WithContext(ctx).Create(config).Error; err != nil {
		return fmt.Errorf("failed to create alert config: %w", err)
	}
	return nil
}

// UpdateConfig replaces an alert config, deleting existing filters,
// thresholds, and channels first.
func (r *alertConfigRepository) UpdateConfig(ctx context.Context, config *entities.AlertConfig) error {
	if config.ID == 0 {
		return fmt.Errorf("failed to update alert config: missing config ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("config_id = ?", config.ID).Delete(&entities.AlertFilter{}).Error; err != nil {
			return fmt.Errorf("failed to delete old filters: %w", err)
		}
		if err := tx.Where("config_id = ?", config.ID).Delete(&entities.AlertThreshold{}).Error; err != nil {
			return fmt.Errorf("failed to delete old thresholds: %w", err)
		}
		if err := tx.Where("config_id = ?", config.ID).Delete(&entities.AlertChannel{}).Error; err != nil {
			return fmt.Errorf("failed to delete old channels: %w", err)
		}
		// Zero out child IDs so GORM inserts new rows instead of trying
		// to update the deleted ones.
		for i := range config.Filters {
			config.Filters[i].ID = 0
			config.Filters[i].ConfigID = config.ID
		}
		for i := range config.Thresholds {
			config.Thresholds[i].ID = 0
			config.Thresholds[i].ConfigID = config.ID
		}
		for i := range config.Channels {
			config.Channels[i].ID = 0
			config.Channels[i].ConfigID = config.ID
		}
		if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(config).Error; err != nil {
			return fmt.Errorf("failed to update alert config %d: %w", config.ID, err)
		}
		return nil
	})
}

// DeleteConfig removes an alert config and, via cascade, its child rows.
func (r *alertConfigRepository) DeleteConfig(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.AlertConfig{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert config %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertConfigNotFound
	}
	return nil
}

// ToggleConfig enables or disables an alert config.
func (r *alertConfigRepository) ToggleConfig(ctx context.Context, id uint, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertConfig{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert config %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertConfigNotFound
	}
	return nil
}

// ListActiveConfigs returns all enabled configs with child rows preloaded.
func (r *alertConfigRepository) ListActiveConfigs(ctx context.Context) ([]entities.AlertConfig, error) {
	var configs []entities.AlertConfig
	err := r.db.WithContext(ctx).
		Preload("Filters").Preload("Thresholds").Preload("Channels").
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active alert configs: %w", err)
	}
	return configs, nil
}
