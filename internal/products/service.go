package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

const maxNameLength = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// reservationReader looks up the live claim on a product. Satisfied by the
// reservation repository.
type reservationReader interface {
	FindActiveByProduct(ctx context.Context, productID uuid.UUID) (*models.Reservation, error)
}

// Service owns product posting and status management.
type Service interface {
	Post(ctx context.Context, input PostInput) (*ProductView, error)
	Get(ctx context.Context, productID uuid.UUID) (*ProductView, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*ProductView, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]ProductView, error)
	ListFeed(ctx context.Context, status enums.ProductStatus, limit, offset int) ([]ProductView, error)
}

type service struct {
	repo         Repository
	sessions     sessionReader
	reservations reservationReader
	tx           txRunner
	events       eventlog.Service
	locks        *locks.KeyedMutex
	cfg          config.EventLogConfig
	logg         *logger.Logger
}

// NewService builds a product service with the required dependencies.
func NewService(
	repo Repository,
	sessions sessionReader,
	reservations reservationReader,
	tx txRunner,
	events eventlog.Service,
	keyed *locks.KeyedMutex,
	cfg config.EventLogConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session reader required")
	}
	if reservations == nil {
		return nil, fmt.Errorf("reservation reader required")
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
		repo:         repo,
		sessions:     sessions,
		reservations: reservations,
		tx:           tx,
		events:       events,
		locks:        keyed,
		cfg:          cfg,
		logg:         logg,
	}, nil
}

// Post creates a product inside an active session and appends the
// product_posted event in the same transaction.
func (s *service) Post(ctx context.Context, input PostInput) (*ProductView, error) {
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	session, err := s.loadSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session.SellerID != input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owning seller can post products")
	}

	release, err := s.events.LockSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// re-check under the lock so the post cannot race the session closing
	session, err = s.loadSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "session has ended")
	}

	var created *models.Product
	var posted *models.SessionEvent
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		created, txErr = s.repo.WithTx(tx).Create(ctx, &models.Product{
			SessionID:   input.SessionID,
			SellerID:    input.SellerID,
			Name:        input.Name,
			Description: input.Description,
			Price:       input.Price,
			ImageURL:    input.ImageURL,
			Status:      enums.ProductStatusAvailable,
		})
		if txErr != nil {
			return txErr
		}

		imageURL := ""
		if created.ImageURL != nil {
			imageURL = *created.ImageURL
		}
		posted, txErr = s.events.AppendInTx(ctx, tx, eventlog.AppendInput{
			SessionID: input.SessionID,
			Kind:      enums.EventKindProductPosted,
			SenderID:  input.SellerID,
			Payload: eventlog.ProductPostedPayload{
				ProductID: created.ID,
				Name:      created.Name,
				Price:     created.Price,
				ImageURL:  imageURL,
			},
		})
		return txErr
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "posting product")
	}

	s.events.Notify(posted)
	s.logg.Info(s.logg.WithSessionID(ctx, input.SessionID.String()), "product posted")
	return toProductView(created), nil
}

func (s *service) Get(ctx context.Context, productID uuid.UUID) (*ProductView, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return toProductView(product), nil
}

// UpdateStatus applies a seller's manual status change. When the session is
// still live the product_status_changed event rides the same transaction;
// ended sessions take the status change without an event so the terminal
// session_ended entry stays last.
func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*ProductView, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product status")
	}

	// same critical section the arbiter uses, so a manual change cannot
	// interleave with a reserve
	releaseProduct, err := s.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer releaseProduct()

	product, err := s.repo.FindByID(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	if product.SellerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owning seller can change product status")
	}
	if !product.Status.CanTransitionTo(input.To) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "illegal product status transition").
			WithDetails(map[string]any{"from": product.Status, "to": input.To})
	}

	// a reserved product with a live claim must go through cancel or
	// complete; flipping it here would strand the active reservation
	if product.Status == enums.ProductStatusReserved {
		if _, findErr := s.reservations.FindActiveByProduct(ctx, product.ID); findErr == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "resolve the active reservation first").
				WithDetails(map[string]any{"product_id": product.ID})
		} else if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "checking active reservation")
		}
	}

	release, err := s.events.LockSession(ctx, product.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.loadSession(ctx, product.SessionID)
	if err != nil {
		return nil, err
	}

	from := product.Status
	var changed *models.SessionEvent
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, txErr := s.repo.WithTx(tx).UpdateStatusCAS(ctx, product.ID, from, input.To)
		if txErr != nil {
			return txErr
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "product status changed concurrently")
		}
		if session.Status != enums.SessionStatusActive {
			return nil
		}
		changed, txErr = s.events.AppendInTx(ctx, tx, eventlog.AppendInput{
			SessionID: product.SessionID,
			Kind:      enums.EventKindProductStatusChanged,
			SenderID:  input.ActorID,
			Payload: eventlog.ProductStatusPayload{
				ProductID: product.ID,
				From:      from,
				To:        input.To,
			},
		})
		return txErr
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating product status")
	}

	s.events.Notify(changed)

	product.Status = input.To
	return toProductView(product), nil
}

func (s *service) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]ProductView, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	items, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing session products")
	}
	return toProductViews(items), nil
}

func (s *service) ListFeed(ctx context.Context, status enums.ProductStatus, limit, offset int) ([]ProductView, error) {
	if status != "" && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product status")
	}

	items, err := s.repo.ListFeed(ctx, status, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing product feed")
	}
	return toProductViews(items), nil
}

func (s *service) lockProduct(ctx context.Context, productID uuid.UUID) (func(), error) {
	release, err := s.locks.Acquire(ctx, ProductLockKey(productID), s.cfg.AppendLockWait)
	if err != nil {
		if errors.Is(err, locks.ErrWaitExpired) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "product is busy")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring product lock")
	}
	return release, nil
}

// ProductLockKey names the per-product critical section. The reservation
// arbiter locks the same key.
func ProductLockKey(productID uuid.UUID) string {
	return "product:" + productID.String()
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

func validatePostInput(input PostInput) error {
	if input.SessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if input.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if input.ActorRole != enums.UserRoleSeller {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only sellers can post products")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if len(name) > maxNameLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "name is too long")
	}
	if !input.Price.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	return nil
}
