package model

import (
	"time"
)

// StatusTransition запись о смене стабильного положения зеркала
type StatusTransition struct {
	ID         string   `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StreamID   string   `gorm:"type:varchar(255);not null;index:idx_stream_occurred" json:"stream_id"`
	FromStatus string   `gorm:"type:varchar(16);not null" json:"from_status"`
	ToStatus   string   `gorm:"type:varchar(16);not null" json:"to_status"`
	CenterY    *float64 `json:"center_y,omitempty"`

	OccurredAt time.Time `gorm:"not null;index:idx_stream_occurred" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName указывает имя таблицы для StatusTransition
func (StatusTransition) TableName() string {
	return "status_transitions"
}
