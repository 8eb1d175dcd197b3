package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// LiveSession is a time-bounded live-selling event owned by one seller.
// Sessions transition active -> ended exactly once and are never deleted.
type LiveSession struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SellerID  uuid.UUID           `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	Title     *string             `gorm:"column:title" json:"title,omitempty"`
	Status    enums.SessionStatus `gorm:"column:status;not null;default:active" json:"status"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	EndedAt   *time.Time          `gorm:"column:ended_at" json:"ended_at,omitempty"`
}

func (LiveSession) TableName() string {
	return "live_sessions"
}
