package repository

import (
	"context"
	"time"

	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
)

// AlertEventStore is the append-only log of fired alerts and their channel
// delivery outcomes. The orchestrator is the sole writer; the external API
// layer reads it for history queries.
type AlertEventStore interface {
	AppendAlertFire(ctx context.Context, fire *entities.AlertFire) error
	AppendDeliveryRecord(ctx context.Context, record *entities.AlertDeliveryRecord) error

	// History
	ListFires(ctx context.Context, filter AlertFireFilter) ([]entities.AlertFire, int64, error)
	ListDeliveries(ctx context.Context, fireID string) ([]entities.AlertDeliveryRecord, error)

	// Retention
	DeleteFiresBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertFireFilter controls fire history queries.
type AlertFireFilter struct {
	ConfigID uint
	Since    time.Time
	Limit    int
	Offset   int
}
