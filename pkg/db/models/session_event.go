package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// SessionEvent is one ordered, immutable fact appended to a session's log.
// Seq is assigned by the sequencer and is gapless per session starting at 1;
// the unique (session_id, seq) index enforces the invariant at the storage
// layer.
type SessionEvent struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionID uuid.UUID       `gorm:"column:session_id;type:uuid;not null;uniqueIndex:ux_session_events_session_seq" json:"session_id"`
	Seq       int64           `gorm:"column:seq;not null;uniqueIndex:ux_session_events_session_seq" json:"seq"`
	Kind      enums.EventKind `gorm:"column:kind;not null" json:"kind"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb" json:"payload"`
	SenderID  uuid.UUID       `gorm:"column:sender_id;type:uuid;not null" json:"sender_id"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}
