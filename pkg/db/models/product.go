package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// Product is an item offered for sale within exactly one live session.
// Status moves available -> reserved -> sold, or reserved -> available on
// cancellation; the row itself is immutable once the session ends apart from
// status changes already in flight.
type Product struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionID   uuid.UUID           `gorm:"column:session_id;type:uuid;not null" json:"session_id"`
	SellerID    uuid.UUID           `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	Name        string              `gorm:"column:name;not null" json:"name"`
	Description *string             `gorm:"column:description" json:"description,omitempty"`
	Price       decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	ImageURL    *string             `gorm:"column:image_url" json:"image_url,omitempty"`
	Status      enums.ProductStatus `gorm:"column:status;not null;default:available" json:"status"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
