package livesessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// CreateInput captures the data required to open a live session.
type CreateInput struct {
	SellerID  uuid.UUID
	ActorRole enums.UserRole
	Title     *string
}

// EndInput captures the data required to close a live session.
type EndInput struct {
	SessionID uuid.UUID
	ActorID   uuid.UUID
	ActorRole enums.UserRole
}

// SessionView is the session projection returned to clients, enriched with
// seller display data and the live participant count.
type SessionView struct {
	ID           uuid.UUID           `json:"id"`
	SellerID     uuid.UUID           `json:"seller_id"`
	SellerName   string              `json:"seller_name,omitempty"`
	Title        *string             `json:"title,omitempty"`
	Status       enums.SessionStatus `json:"status"`
	Participants int64               `json:"participants"`
	CreatedAt    time.Time           `json:"created_at"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
}

func toSessionView(session *models.LiveSession, sellerName string, participants int64) *SessionView {
	if session == nil {
		return nil
	}
	return &SessionView{
		ID:           session.ID,
		SellerID:     session.SellerID,
		SellerName:   sellerName,
		Title:        session.Title,
		Status:       session.Status,
		Participants: participants,
		CreatedAt:    session.CreatedAt,
		EndedAt:      session.EndedAt,
	}
}
