package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is a runtime switch stored in DB so operators can stop the scheduler
// without a redeploy.
type SystemSetting struct {
	ID  uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Key string `gorm:"type:varchar(120);not null;uniqueIndex" json:"key"`

	// JSON value: true/false for switches.
	Value datatypes.JSON `gorm:"not null" json:"value"`

	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
