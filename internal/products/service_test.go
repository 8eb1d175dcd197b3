package products

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/internal/livesessions"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgdb "github.com/antiquefeed/antiquefeed-backend/pkg/db"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

func setupProductsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{`
CREATE TABLE IF NOT EXISTS live_sessions (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  ended_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL,
  image_url TEXT,
  status TEXT NOT NULL DEFAULT 'available',
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS reservations (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS session_events (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT,
  sender_id TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (session_id, seq)
);`}
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	return conn
}

type testReservationReader struct {
	db *gorm.DB
}

func (r testReservationReader) FindActiveByProduct(ctx context.Context, productID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, enums.ReservationStatusActive).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func newProductsService(t *testing.T, conn *gorm.DB) (Service, eventlog.Service) {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client := pkgdb.FromConn(conn)
	keyed := locks.NewKeyedMutex()
	cfg := config.EventLogConfig{AppendLockWait: 2 * time.Second, MaxAttempts: 3, RetryBackoff: 5 * time.Millisecond}

	events, err := eventlog.NewService(eventlog.NewRepository(conn), client, keyed, cfg, logg, nil)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(conn),
		livesessions.NewRepository(conn),
		testReservationReader{db: conn},
		client,
		events,
		keyed,
		cfg,
		logg,
	)
	require.NoError(t, err)
	return svc, events
}

func seedLiveSession(t *testing.T, conn *gorm.DB, status enums.SessionStatus) *models.LiveSession {
	t.Helper()

	session := &models.LiveSession{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Status:   status,
	}
	require.NoError(t, conn.Create(session).Error)
	return session
}

func TestPostCreatesProductAndEvent(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, events := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	view, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "victorian oil lamp",
		Price:     decimal.NewFromFloat(45.50),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStatusAvailable, view.Status)
	assert.Equal(t, session.ID, view.SessionID)

	log, err := events.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, enums.EventKindProductPosted, log[0].Kind)
}

func TestPostRejectsNonOwner(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	_, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  uuid.New(),
		ActorRole: enums.UserRoleSeller,
		Name:      "brass compass",
		Price:     decimal.NewFromInt(20),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestPostRejectsEndedSession(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusEnded)

	_, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "silver locket",
		Price:     decimal.NewFromInt(15),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSessionClosed))
}

func TestPostValidatesInput(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	_, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "   ",
		Price:     decimal.NewFromInt(5),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "cursed mirror",
		Price:     decimal.NewFromInt(-1),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	// free products are not sellable either
	_, err = svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "dusty atlas",
		Price:     decimal.Zero,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleBuyer,
		Name:      "pocket watch",
		Price:     decimal.NewFromInt(5),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestUpdateStatusEnforcesLegalTransitions(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	view, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "art deco clock",
		Price:     decimal.NewFromInt(120),
	})
	require.NoError(t, err)

	// available -> sold skips reserved and must be rejected
	_, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProductID: view.ID,
		ActorID:   session.SellerID,
		ActorRole: enums.UserRoleSeller,
		To:        enums.ProductStatusSold,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	updated, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProductID: view.ID,
		ActorID:   session.SellerID,
		ActorRole: enums.UserRoleSeller,
		To:        enums.ProductStatusReserved,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStatusReserved, updated.Status)
}

func TestUpdateStatusRefusesToStrandActiveReservation(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	product := &models.Product{
		ID:        uuid.New(),
		SessionID: session.ID,
		SellerID:  session.SellerID,
		Name:      "ship in a bottle",
		Price:     decimal.NewFromInt(85),
		Status:    enums.ProductStatusReserved,
	}
	require.NoError(t, conn.Create(product).Error)

	reservation := &models.Reservation{
		ID:        uuid.New(),
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		SellerID:  session.SellerID,
		Status:    enums.ReservationStatusActive,
	}
	require.NoError(t, conn.Create(reservation).Error)

	_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProductID: product.ID,
		ActorID:   session.SellerID,
		ActorRole: enums.UserRoleSeller,
		To:        enums.ProductStatusAvailable,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	var stored models.Product
	require.NoError(t, conn.Where("id = ?", product.ID).First(&stored).Error)
	assert.Equal(t, enums.ProductStatusReserved, stored.Status)

	// once the claim is resolved the manual change goes through
	require.NoError(t, conn.Model(&models.Reservation{}).
		Where("id = ?", reservation.ID).
		Update("status", enums.ReservationStatusCancelled).Error)

	updated, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProductID: product.ID,
		ActorID:   session.SellerID,
		ActorRole: enums.UserRoleSeller,
		To:        enums.ProductStatusAvailable,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStatusAvailable, updated.Status)
}

func TestUpdateStatusAppendsEventWhileLive(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, events := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	view, err := svc.Post(context.Background(), PostInput{
		SessionID: session.ID,
		SellerID:  session.SellerID,
		ActorRole: enums.UserRoleSeller,
		Name:      "tin toy robot",
		Price:     decimal.NewFromInt(60),
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProductID: view.ID,
		ActorID:   session.SellerID,
		ActorRole: enums.UserRoleSeller,
		To:        enums.ProductStatusReserved,
	})
	require.NoError(t, err)

	log, err := events.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, enums.EventKindProductPosted, log[0].Kind)
	assert.Equal(t, enums.EventKindProductStatusChanged, log[1].Kind)
}

func TestListFeedOrdersNewestFirst(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	names := []string{"first", "second", "third"}
	for _, name := range names {
		_, err := svc.Post(context.Background(), PostInput{
			SessionID: session.ID,
			SellerID:  session.SellerID,
			ActorRole: enums.UserRoleSeller,
			Name:      name,
			Price:     decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	feed, err := svc.ListFeed(context.Background(), "", 2, 0)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "third", feed[0].Name)
	assert.Equal(t, "second", feed[1].Name)
}

func TestListBySessionReturnsPostedOrder(t *testing.T) {
	conn := setupProductsTestDB(t)
	svc, _ := newProductsService(t, conn)
	session := seedLiveSession(t, conn, enums.SessionStatusActive)

	for _, name := range []string{"alpha", "beta"} {
		_, err := svc.Post(context.Background(), PostInput{
			SessionID: session.ID,
			SellerID:  session.SellerID,
			ActorRole: enums.UserRoleSeller,
			Name:      name,
			Price:     decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	items, err := svc.ListBySession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Name)
	assert.Equal(t, "beta", items[1].Name)
}
