// Package datastore provides SQLite-backed persistence for alert configs
// and the append-only alert event log.
package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// Open opens (or creates) the SQLite database at path and runs schema
// migration. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema for all persisted entities.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.AlertConfig{},
		&entities.AlertFilter{},
		&entities.AlertThreshold{},
		&entities.AlertChannel{},
		&entities.AlertFire{},
		&entities.AlertDeliveryRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
