package entities

import "time"

// AlertConfig defines a user-configurable alert over LLM usage events.
// Configs match event dimensions against filters and fire when any of
// their thresholds is satisfied.
type AlertConfig struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Name        string           `gorm:"size:255;not null" json:"name"`
	Description string           `gorm:"size:1000;default:''" json:"description"`
	Enabled     bool             `gorm:"not null;index" json:"enabled"`
	BuiltIn     bool             `gorm:"not null;default:false" json:"built_in"`
	AlertType   string           `gorm:"size:20;not null" json:"alert_type"`
	Severity    string           `gorm:"size:20;not null" json:"severity"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	Filters     []AlertFilter    `gorm:"foreignKey:ConfigID;constraint:OnDelete:CASCADE" json:"filters"`
	Thresholds  []AlertThreshold `gorm:"foreignKey:ConfigID;constraint:OnDelete:CASCADE" json:"thresholds"`
	Channels    []AlertChannel   `gorm:"foreignKey:ConfigID;constraint:OnDelete:CASCADE" json:"channels"`
}

// TableName returns the table name for GORM.
func (AlertConfig) TableName() string {
	return "alert_configs"
}

// AlertFilter is a single dimension equality filter within an alert config.
// All filters on a config must match (AND logic).
type AlertFilter struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ConfigID uint   `gorm:"not null;index" json:"config_id"`
	Field    string `gorm:"size:100;not null" json:"field"`
	Value    string `gorm:"size:500;not null" json:"value"`
}

// TableName returns the table name for GORM.
func (AlertFilter) TableName() string {
	return "alert_filters"
}

// AlertThreshold is a single threshold condition within an alert config.
// Thresholds on a config are OR-combined: the first satisfied threshold
// fires the config. DurationMin > 0 requires the condition to hold for an
// aggregate over the trailing window; 0 means single-event evaluation.
type AlertThreshold struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	ConfigID    uint    `gorm:"not null;index" json:"config_id"`
	Metric      string  `gorm:"size:100;not null" json:"metric"`
	Operator    string  `gorm:"size:10;not null" json:"operator"`
	Value       float64 `gorm:"not null" json:"value"`
	DurationMin int     `gorm:"default:0" json:"duration_min"`
	SortOrder   int     `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertThreshold) TableName() string {
	return "alert_thresholds"
}

// AlertChannel is a notification destination attached to an alert config.
// Destination is an opaque JSON blob whose schema depends on Type; it is
// validated by the channel sender, not here.
type AlertChannel struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ConfigID    uint   `gorm:"not null;index" json:"config_id"`
	Type        string `gorm:"size:30;not null" json:"type"`
	Destination string `gorm:"type:text;default:''" json:"destination"`
	Enabled     bool   `gorm:"not null;default:true" json:"enabled"`
	SortOrder   int    `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertChannel) TableName() string {
	return "alert_channels"
}
