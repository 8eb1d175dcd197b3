package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// Reservation is a buyer's exclusive claim on a product. At most one
// reservation per product may be active at any time; the partial unique index
// ux_reservations_product_active backs the invariant at the storage layer.
type Reservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID uuid.UUID               `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	BuyerID   uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	SellerID  uuid.UUID               `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	Status    enums.ReservationStatus `gorm:"column:status;not null;default:active" json:"status"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservations"
}
