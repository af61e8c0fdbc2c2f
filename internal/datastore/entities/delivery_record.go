package entities

import "time"

// Delivery statuses. A record is terminal once it reaches Sent, Failed,
// or Suppressed; Pending only exists while a dispatch is in flight.
const (
	DeliveryPending    = "PENDING"
	DeliverySent       = "SENT"
	DeliveryFailed     = "FAILED"
	DeliverySuppressed = "SUPPRESSED"
)

// AlertDeliveryRecord is the persisted outcome of one channel dispatch for
// a fired alert. Suppressed firings (throttled, or no channels configured)
// produce a single record with an empty Channel.
type AlertDeliveryRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	FireID       string     `gorm:"size:36;not null;index" json:"fire_id"`
	ConfigID     uint       `gorm:"not null;index" json:"config_id"`
	Channel      string     `gorm:"size:30;default:''" json:"channel"`
	Status       string     `gorm:"size:15;not null" json:"status"`
	AttemptCount int        `gorm:"default:0" json:"attempt_count"`
	LastError    string     `gorm:"size:1000;default:''" json:"last_error"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (AlertDeliveryRecord) TableName() string {
	return "alert_delivery_records"
}
