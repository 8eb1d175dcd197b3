package reservations

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
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
	"github.com/antiquefeed/antiquefeed-backend/internal/products"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgdb "github.com/antiquefeed/antiquefeed-backend/pkg/db"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

func setupReservationsTestDB(t *testing.T) *gorm.DB {
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

func newReservationsService(t *testing.T, conn *gorm.DB) (Service, eventlog.Service) {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client := pkgdb.FromConn(conn)
	keyed := locks.NewKeyedMutex()
	cfg := config.EventLogConfig{AppendLockWait: 2 * time.Second, MaxAttempts: 3, RetryBackoff: 5 * time.Millisecond}

	events, err := eventlog.NewService(eventlog.NewRepository(conn), client, keyed, cfg, logg, nil)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(conn),
		products.NewRepository(conn),
		livesessions.NewRepository(conn),
		client,
		events,
		keyed,
		cfg,
		logg,
		nil,
	)
	require.NoError(t, err)
	return svc, events
}

func seedSessionAndProduct(t *testing.T, conn *gorm.DB, sessionStatus enums.SessionStatus, productStatus enums.ProductStatus) (*models.LiveSession, *models.Product) {
	t.Helper()

	session := &models.LiveSession{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Status:   sessionStatus,
	}
	require.NoError(t, conn.Create(session).Error)

	product := &models.Product{
		ID:        uuid.New(),
		SessionID: session.ID,
		SellerID:  session.SellerID,
		Name:      "mahogany writing desk",
		Price:     decimal.NewFromInt(300),
		Status:    productStatus,
	}
	require.NoError(t, conn.Create(product).Error)

	return session, product
}

func TestReserveGrantsAvailableProduct(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)
	buyer := uuid.New()

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   buyer,
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusActive, view.Status)
	assert.Equal(t, buyer, view.BuyerID)

	var stored models.Product
	require.NoError(t, conn.Where("id = ?", product.ID).First(&stored).Error)
	assert.Equal(t, enums.ProductStatusReserved, stored.Status)
}

func TestReserveRejectsReservedProduct(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusReserved)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProductUnavailable))
}

func TestReserveRejectsEndedSession(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusEnded, enums.ProductStatusAvailable)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSessionClosed))
}

func TestReserveRejectsSellers(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   product.SellerID,
		ActorRole: enums.UserRoleSeller,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestConcurrentReservesHaveExactlyOneWinner(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	const buyers = 12
	var wg sync.WaitGroup
	wg.Add(buyers)

	var mu sync.Mutex
	var wins, losses int
	for i := 0; i < buyers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveInput{
				ProductID: product.ID,
				BuyerID:   uuid.New(),
				ActorRole: enums.UserRoleBuyer,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if pkgerrors.IsCode(err, pkgerrors.CodeProductUnavailable) {
				losses++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, buyers-1, losses)

	var count int64
	require.NoError(t, conn.Model(&models.Reservation{}).Where("product_id = ?", product.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReserveAnnouncesInOrder(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, events := newReservationsService(t, conn)
	session, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	log, err := events.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, enums.EventKindProductStatusChanged, log[0].Kind)
	assert.Equal(t, enums.EventKindMessage, log[1].Kind)
	assert.Less(t, log[0].Seq, log[1].Seq)

	var message eventlog.MessagePayload
	require.NoError(t, json.Unmarshal(log[1].Payload, &message))
	assert.Equal(t, enums.MessageKindProduct, message.Kind)
	assert.Equal(t, `Reserved "mahogany writing desk" for $300`, message.Body)
	require.NotNil(t, message.ProductID)
	assert.Equal(t, product.ID, *message.ProductID)
}

func TestCancelReturnsProductToFeed(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)
	buyer := uuid.New()

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   buyer,
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       buyer,
		ActorRole:     enums.UserRoleBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusCancelled, cancelled.Status)

	var stored models.Product
	require.NoError(t, conn.Where("id = ?", product.ID).First(&stored).Error)
	assert.Equal(t, enums.ProductStatusAvailable, stored.Status)

	// the product can be claimed again
	_, err = svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)
}

func TestCancelIsIdempotent(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, events := newReservationsService(t, conn)
	session, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)
	buyer := uuid.New()

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   buyer,
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       buyer,
		ActorRole:     enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	log, err := events.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	appended := len(log)

	// a retried cancel succeeds without touching the product or the log
	again, err := svc.Cancel(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       buyer,
		ActorRole:     enums.UserRoleBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusCancelled, again.Status)

	var stored models.Product
	require.NoError(t, conn.Where("id = ?", product.ID).First(&stored).Error)
	assert.Equal(t, enums.ProductStatusAvailable, stored.Status)

	log, err = events.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, log, appended)
}

func TestReserveWaitsOutSessionLogLock(t *testing.T) {
	conn := setupReservationsTestDB(t)

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client := pkgdb.FromConn(conn)
	keyed := locks.NewKeyedMutex()
	cfg := config.EventLogConfig{AppendLockWait: 50 * time.Millisecond, MaxAttempts: 3, RetryBackoff: 5 * time.Millisecond}

	events, err := eventlog.NewService(eventlog.NewRepository(conn), client, keyed, cfg, logg, nil)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(conn),
		products.NewRepository(conn),
		livesessions.NewRepository(conn),
		client,
		events,
		keyed,
		cfg,
		logg,
		nil,
	)
	require.NoError(t, err)

	session, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	release, err := events.LockSession(context.Background(), session.ID)
	require.NoError(t, err)

	// while the session log is held, say by an end in flight, the claim
	// backs off instead of racing past the status check
	_, err = svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	release()

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusActive, view.Status)
}

func TestCancelRejectsStrangers(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       uuid.New(),
		ActorRole:     enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestCompleteMarksProductSold(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	_, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)
	buyer := uuid.New()

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   buyer,
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	// the buyer cannot complete the sale
	_, err = svc.Complete(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       buyer,
		ActorRole:     enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	completed, err := svc.Complete(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       product.SellerID,
		ActorRole:     enums.UserRoleSeller,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusCompleted, completed.Status)

	var stored models.Product
	require.NoError(t, conn.Where("id = ?", product.ID).First(&stored).Error)
	assert.Equal(t, enums.ProductStatusSold, stored.Status)

	// completion is final
	_, err = svc.Cancel(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       buyer,
		ActorRole:     enums.UserRoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCompleteSurvivesSessionEnd(t *testing.T) {
	conn := setupReservationsTestDB(t)
	svc, _ := newReservationsService(t, conn)
	session, product := seedSessionAndProduct(t, conn, enums.SessionStatusActive, enums.ProductStatusAvailable)

	view, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID: product.ID,
		BuyerID:   uuid.New(),
		ActorRole: enums.UserRoleBuyer,
	})
	require.NoError(t, err)

	require.NoError(t, conn.Model(&models.LiveSession{}).
		Where("id = ?", session.ID).
		Update("status", enums.SessionStatusEnded).Error)

	completed, err := svc.Complete(context.Background(), ResolveInput{
		ReservationID: view.ID,
		ActorID:       product.SellerID,
		ActorRole:     enums.UserRoleSeller,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusCompleted, completed.Status)
}
