package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// Profile is the read-side projection of an identity-provider user. The core
// never writes credentials; it only joins display data into session views.
type Profile struct {
	UserID      uuid.UUID      `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	DisplayName string         `gorm:"column:display_name;not null" json:"display_name"`
	Role        enums.UserRole `gorm:"column:role;not null" json:"role"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
