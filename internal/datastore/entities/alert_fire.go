package entities

import "time"

// AlertFire records a single evaluation decision that matched: a config
// whose filters and one threshold were satisfied by an event. Fires are
// append-only; delivery outcomes reference them by FireID.
type AlertFire struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FireID    string    `gorm:"size:36;not null;uniqueIndex" json:"fire_id"`
	ConfigID  uint      `gorm:"not null;index:idx_alert_fires_config_fired,priority:1" json:"config_id"`
	EventID   string    `gorm:"size:100;not null" json:"event_id"`
	DedupKey  string    `gorm:"size:500;not null;index" json:"dedup_key"`
	Metric    string    `gorm:"size:100;not null" json:"metric"`
	Operator  string    `gorm:"size:10;not null" json:"operator"`
	Threshold float64   `gorm:"not null" json:"threshold"`
	Observed  float64   `gorm:"not null" json:"observed"`
	FiredAt   time.Time `gorm:"not null;index:idx_alert_fires_config_fired,priority:2" json:"fired_at"`
	EventData string    `gorm:"type:text;default:''" json:"event_data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (AlertFire) TableName() string {
	return "alert_fires"
}
