package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// alertEventStore implements AlertEventStore.
type alertEventStore struct {
	db *gorm.DB
}

// NewAlertEventStore creates a new AlertEventStore.
func NewAlertEventStore(db *gorm.DB) AlertEventStore {
	return &alertEventStore{db: db}
}

// AppendAlertFire persists a fire decision.
func (s *alertEventStore) AppendAlertFire(ctx context.Context, fire *entities.AlertFire) error {
	if err := s.db.WithContext(ctx).Create(fire).Error; err != nil {
		return fmt.Errorf("failed to append alert fire: %w", err)
	}
	return nil
}

// AppendDeliveryRecord persists a terminal channel delivery outcome.
func (s *alertEventStore) AppendDeliveryRecord(ctx context.Context, record *entities.AlertDeliveryRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append delivery record: %w", err)
	}
	return nil
}

// ListFires returns fire history matching the filter, newest first, plus
// the total count before pagination.
func (s *alertEventStore) ListFires(ctx context.Context, filter AlertFireFilter) ([]entities.AlertFire, int64, error) {
	query := s.db.WithContext(ctx).Model(&entities.AlertFire{})
	if filter.ConfigID != 0 {
		query = query.Where("config_id = ?", filter.ConfigID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("fired_at >= ?", filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert fires: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var fires []entities.AlertFire
	if err := query.Order("fired_at DESC").Find(&fires).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert fires: %w", err)
	}
	return fires, total, nil
}

// ListDeliveries returns all delivery records for a fire.
func (s *alertEventStore) ListDeliveries(ctx context.Context, fireID string) ([]entities.AlertDeliveryRecord, error) {
	var records []entities.AlertDeliveryRecord
	err := s.db.WithContext(ctx).
		Where("fire_id = ?", fireID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records for fire %s: %w", fireID, err)
	}
	return records, nil
}

// DeleteFiresBefore removes fires and their delivery records older than
// the cutoff. Used by the retention cleanup loop.
func (s *alertEventStore) DeleteFiresBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fireIDs []string
		if err := tx.Model(&entities.AlertFire{}).
			Where("fired_at < ?", before).
			Pluck("fire_id", &fireIDs).Error; err != nil {
			return fmt.Errorf("failed to find expired fires: %w", err)
		}
		if len(fireIDs) == 0 {
			return nil
		}
		if err := tx.Where("fire_id IN ?", fireIDs).Delete(&entities.AlertDeliveryRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired delivery records: %w", err)
		}
		result := tx.Where("fire_id IN ?", fireIDs).Delete(&entities.AlertFire{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired fires: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
