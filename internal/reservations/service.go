package reservations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/internal/products"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
	"github.com/antiquefeed/antiquefeed-backend/pkg/metrics"
)

const (
	outcomeWon         = "won"
	outcomeLost        = "lost"
	outcomeClosed      = "session_closed"
	outcomeUnavailable = "unavailable"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Service arbitrates exclusive product claims. All paths that touch a
// product's status funnel through the per-product lock so exactly one of any
// set of simultaneous buyers wins.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*ReservationView, error)
	Cancel(ctx context.Context, input ResolveInput) (*ReservationView, error)
	Complete(ctx context.Context, input ResolveInput) (*ReservationView, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]ReservationView, error)
}

type service struct {
	repo     Repository
	products products.Repository
	sessions sessionReader
	tx       txRunner
	events   eventlog.Service
	locks    *locks.KeyedMutex
	cfg      config.EventLogConfig
	logg     *logger.Logger
	metrics  *metrics.SessionMetrics
}

// NewService builds the reservation arbiter with the required dependencies.
func NewService(
	repo Repository,
	productRepo products.Repository,
	sessions sessionReader,
	tx txRunner,
	events eventlog.Service,
	keyed *locks.KeyedMutex,
	cfg config.EventLogConfig,
	logg *logger.Logger,
	m *metrics.SessionMetrics,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if productRepo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session reader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("event log service required")
	}
	if keyed == nil {
		return nil, fmt.Errorf("keyed mutex required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		products: productRepo,
		sessions: sessions,
		tx:       tx,
		events:   events,
		locks:    keyed,
		cfg:      cfg,
		logg:     logg,
		metrics:  m,
	}, nil
}

// Reserve grants the product to the caller if and only if it is still
// available. Losers get PRODUCT_UNAVAILABLE, never a partial write.
func (s *service) Reserve(ctx context.Context, input ReserveInput) (*ReservationView, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if input.ActorRole != enums.UserRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can reserve products")
	}

	release, err := s.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	product, err := s.loadProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	// the session lock keeps EndSession from committing between the status
	// check and the reserve transaction; it is released before the
	// announcements because appends take it themselves
	releaseSession, err := s.events.LockSession(ctx, product.SessionID)
	if err != nil {
		return nil, err
	}
	sessionHeld := true
	defer func() {
		if sessionHeld {
			releaseSession()
		}
	}()

	session, err := s.loadSession(ctx, product.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		s.metrics.IncReserveAttempt(outcomeClosed)
		return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "session has ended")
	}

	if product.Status != enums.ProductStatusAvailable {
		s.metrics.IncReserveAttempt(outcomeUnavailable)
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is no longer available")
	}

	var reservation *models.Reservation
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		reservation, txErr = s.repo.WithTx(tx).Create(ctx, &models.Reservation{
			ProductID: product.ID,
			BuyerID:   input.BuyerID,
			SellerID:  product.SellerID,
			Status:    enums.ReservationStatusActive,
		})
		if txErr != nil {
			return txErr
		}

		ok, txErr := s.products.WithTx(tx).UpdateStatusCAS(ctx, product.ID, enums.ProductStatusAvailable, enums.ProductStatusReserved)
		if txErr != nil {
			return txErr
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is no longer available")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncReserveAttempt(outcomeLost)
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserving product")
	}

	sessionHeld = false
	releaseSession()

	s.metrics.IncReserveAttempt(outcomeWon)
	s.logg.Info(s.logg.WithSessionID(ctx, product.SessionID.String()), "product reserved")

	// still under the product lock, so the two announcements land in order
	s.announceStatusChange(ctx, product, enums.ProductStatusAvailable, enums.ProductStatusReserved, input.BuyerID, &reservation.ID)
	s.announceReservationMessage(ctx, product, input.BuyerID)

	return toReservationView(reservation), nil
}

// Cancel releases an active reservation. The owning buyer or the product's
// seller may cancel; the product returns to the feed as available.
func (s *service) Cancel(ctx context.Context, input ResolveInput) (*ReservationView, error) {
	return s.resolve(ctx, input, enums.ReservationStatusCancelled)
}

// Complete finalizes a sale. Seller-only; the product becomes sold and the
// reservation is never reusable.
func (s *service) Complete(ctx context.Context, input ResolveInput) (*ReservationView, error) {
	return s.resolve(ctx, input, enums.ReservationStatusCompleted)
}

func (s *service) resolve(ctx context.Context, input ResolveInput, target enums.ReservationStatus) (*ReservationView, error) {
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	reservation, err := s.repo.FindByID(ctx, input.ReservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}

	switch target {
	case enums.ReservationStatusCancelled:
		if input.ActorID != reservation.BuyerID && input.ActorID != reservation.SellerID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this reservation")
		}
	case enums.ReservationStatusCompleted:
		if input.ActorID != reservation.SellerID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can complete a sale")
		}
	}

	// replaying the same resolution is a no-op, mirroring EndSession
	if reservation.Status == target {
		return toReservationView(reservation), nil
	}

	release, err := s.lockProduct(ctx, reservation.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	product, err := s.loadProduct(ctx, reservation.ProductID)
	if err != nil {
		return nil, err
	}

	productTarget := enums.ProductStatusAvailable
	if target == enums.ReservationStatusCompleted {
		productTarget = enums.ProductStatusSold
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, txErr := s.repo.WithTx(tx).UpdateStatusCAS(ctx, reservation.ID, enums.ReservationStatusActive, target)
		if txErr != nil {
			return txErr
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "reservation is no longer active")
		}

		ok, txErr = s.products.WithTx(tx).UpdateStatusCAS(ctx, product.ID, enums.ProductStatusReserved, productTarget)
		if txErr != nil {
			return txErr
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "product status changed concurrently")
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving reservation")
	}

	s.announceStatusChange(ctx, product, enums.ProductStatusReserved, productTarget, input.ActorID, &reservation.ID)

	reservation.Status = target
	return toReservationView(reservation), nil
}

func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]ReservationView, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}

	items, err := s.repo.ListByBuyer(ctx, buyerID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing reservations")
	}
	return toReservationViews(items), nil
}

// announceStatusChange appends the product_status_changed event. An ended
// session swallows the announcement; the reservation state is already
// committed and the feed is closed anyway.
func (s *service) announceStatusChange(ctx context.Context, product *models.Product, from, to enums.ProductStatus, actorID uuid.UUID, reservationID *uuid.UUID) {
	_, err := s.events.Append(ctx, eventlog.AppendInput{
		SessionID: product.SessionID,
		Kind:      enums.EventKindProductStatusChanged,
		SenderID:  actorID,
		Payload: eventlog.ProductStatusPayload{
			ProductID:     product.ID,
			From:          from,
			To:            to,
			ReservationID: reservationID,
		},
	})
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeSessionClosed) {
		s.logg.Error(s.logg.WithSessionID(ctx, product.SessionID.String()), "announcing status change", err)
	}
}

// announceReservationMessage posts the synthetic product message that shows
// the claim in the session chat.
func (s *service) announceReservationMessage(ctx context.Context, product *models.Product, buyerID uuid.UUID) {
	_, err := s.events.Append(ctx, eventlog.AppendInput{
		SessionID: product.SessionID,
		Kind:      enums.EventKindMessage,
		SenderID:  buyerID,
		Payload: eventlog.MessagePayload{
			Kind:      enums.MessageKindProduct,
			Body:      fmt.Sprintf("Reserved %q for $%s", product.Name, product.Price),
			ProductID: &product.ID,
		},
	})
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeSessionClosed) {
		s.logg.Error(s.logg.WithSessionID(ctx, product.SessionID.String()), "announcing reservation", err)
	}
}

func (s *service) lockProduct(ctx context.Context, productID uuid.UUID) (func(), error) {
	release, err := s.locks.Acquire(ctx, products.ProductLockKey(productID), s.cfg.AppendLockWait)
	if err != nil {
		if errors.Is(err, locks.ErrWaitExpired) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "product is busy")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring product lock")
	}
	return release, nil
}

func (s *service) loadProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return product, nil
}

func (s *service) loadSession(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	return session, nil
}
