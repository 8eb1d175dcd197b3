package products

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// PostInput captures the data required to put a product up for sale inside a
// live session.
type PostInput struct {
	SessionID   uuid.UUID
	SellerID    uuid.UUID
	ActorRole   enums.UserRole
	Name        string
	Description *string
	Price       decimal.Decimal
	ImageURL    *string
}

// UpdateStatusInput captures a seller's manual status change.
type UpdateStatusInput struct {
	ProductID uuid.UUID
	ActorID   uuid.UUID
	ActorRole enums.UserRole
	To        enums.ProductStatus
}

// ProductView is the product projection returned to clients.
type ProductView struct {
	ID          uuid.UUID           `json:"id"`
	SessionID   uuid.UUID           `json:"session_id"`
	SellerID    uuid.UUID           `json:"seller_id"`
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	Price       decimal.Decimal     `json:"price"`
	ImageURL    *string             `json:"image_url,omitempty"`
	Status      enums.ProductStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toProductView(product *models.Product) *ProductView {
	if product == nil {
		return nil
	}
	return &ProductView{
		ID:          product.ID,
		SessionID:   product.SessionID,
		SellerID:    product.SellerID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		ImageURL:    product.ImageURL,
		Status:      product.Status,
		CreatedAt:   product.CreatedAt,
	}
}

func toProductViews(items []models.Product) []ProductView {
	views := make([]ProductView, 0, len(items))
	for i := range items {
		views = append(views, *toProductView(&items[i]))
	}
	return views
}
