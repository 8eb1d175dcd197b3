package reservations

import (
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// ReserveInput captures a buyer's claim attempt on a product.
type ReserveInput struct {
	ProductID uuid.UUID
	BuyerID   uuid.UUID
	ActorRole enums.UserRole
}

// ResolveInput captures cancelling or completing an existing reservation.
type ResolveInput struct {
	ReservationID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
}

// ReservationView is the reservation projection returned to clients.
type ReservationView struct {
	ID        uuid.UUID               `json:"id"`
	ProductID uuid.UUID               `json:"product_id"`
	BuyerID   uuid.UUID               `json:"buyer_id"`
	SellerID  uuid.UUID               `json:"seller_id"`
	Status    enums.ReservationStatus `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
}

func toReservationView(reservation *models.Reservation) *ReservationView {
	if reservation == nil {
		return nil
	}
	return &ReservationView{
		ID:        reservation.ID,
		ProductID: reservation.ProductID,
		BuyerID:   reservation.BuyerID,
		SellerID:  reservation.SellerID,
		Status:    reservation.Status,
		CreatedAt: reservation.CreatedAt,
	}
}

func toReservationViews(items []models.Reservation) []ReservationView {
	views := make([]ReservationView, 0, len(items))
	for i := range items {
		views = append(views, *toReservationView(&items[i]))
	}
	return views
}
