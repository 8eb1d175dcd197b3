package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// MessagePayload is the body of a "message" event. Product messages carry the
// referenced product ID so clients can render an inline card.
type MessagePayload struct {
	Kind      enums.MessageKind `json:"kind"`
	Body      string            `json:"body,omitempty"`
	ImageURL  string            `json:"image_url,omitempty"`
	ProductID *uuid.UUID        `json:"product_id,omitempty"`
}

// ProductPostedPayload is the body of a "product_posted" event.
type ProductPostedPayload struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"image_url,omitempty"`
}

// ProductStatusPayload is the body of a "product_status_changed" event.
type ProductStatusPayload struct {
	ProductID     uuid.UUID           `json:"product_id"`
	From          enums.ProductStatus `json:"from"`
	To            enums.ProductStatus `json:"to"`
	ReservationID *uuid.UUID          `json:"reservation_id,omitempty"`
}

// SessionEndedPayload is the body of the terminal "session_ended" event.
type SessionEndedPayload struct {
	EndedBy uuid.UUID `json:"ended_by"`
}

// EncodePayload marshals a typed payload for storage.
func EncodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}
	return raw, nil
}
