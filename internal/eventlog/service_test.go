package eventlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgdb "github.com/antiquefeed/antiquefeed-backend/pkg/db"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
	"github.com/rs/zerolog"
)

func setupEventLogTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	liveSessions := `
CREATE TABLE IF NOT EXISTS live_sessions (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  ended_at DATETIME
);`
	sessionEvents := `
CREATE TABLE IF NOT EXISTS session_events (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT,
  sender_id TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (session_id, seq)
);`

	require.NoError(t, conn.Exec(liveSessions).Error)
	require.NoError(t, conn.Exec(sessionEvents).Error)

	return conn
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
}

func newEventLogService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()

	svc, err := NewService(
		NewRepository(conn),
		pkgdb.FromConn(conn),
		locks.NewKeyedMutex(),
		config.EventLogConfig{
			AppendLockWait: 2 * time.Second,
			MaxAttempts:    3,
			RetryBackoff:   5 * time.Millisecond,
		},
		newTestLogger(),
		nil,
	)
	require.NoError(t, err)
	return svc
}

func seedSession(t *testing.T, conn *gorm.DB, status enums.SessionStatus) *models.LiveSession {
	t.Helper()

	session := &models.LiveSession{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Status:   status,
	}
	require.NoError(t, conn.Create(session).Error)
	return session
}

func TestAppendAssignsSequentialSeq(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusActive)
	sender := uuid.New()

	for i := 1; i <= 3; i++ {
		event, err := svc.Append(context.Background(), AppendInput{
			SessionID: session.ID,
			Kind:      enums.EventKindMessage,
			SenderID:  sender,
			Payload:   MessagePayload{Kind: enums.MessageKindText, Body: fmt.Sprintf("hello %d", i)},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), event.Seq)
	}
}

func TestAppendRejectsEndedSession(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusEnded)

	_, err := svc.Append(context.Background(), AppendInput{
		SessionID: session.ID,
		Kind:      enums.EventKindMessage,
		SenderID:  uuid.New(),
		Payload:   MessagePayload{Kind: enums.MessageKindText, Body: "too late"},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSessionClosed))
}

func TestAppendRejectsUnknownSession(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)

	_, err := svc.Append(context.Background(), AppendInput{
		SessionID: uuid.New(),
		Kind:      enums.EventKindMessage,
		SenderID:  uuid.New(),
		Payload:   MessagePayload{Kind: enums.MessageKindText, Body: "ghost"},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAppendValidatesInput(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)

	_, err := svc.Append(context.Background(), AppendInput{
		SessionID: uuid.Nil,
		Kind:      enums.EventKindMessage,
		SenderID:  uuid.New(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Append(context.Background(), AppendInput{
		SessionID: uuid.New(),
		Kind:      enums.EventKind("bogus"),
		SenderID:  uuid.New(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusActive)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := svc.Append(context.Background(), AppendInput{
				SessionID: session.ID,
				Kind:      enums.EventKindMessage,
				SenderID:  uuid.New(),
				Payload:   MessagePayload{Kind: enums.MessageKindText, Body: fmt.Sprintf("msg %d", n)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events, err := svc.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, writers)
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.Seq)
	}
}

func TestReadSinceReturnsOrderedSuffix(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusActive)
	sender := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(context.Background(), AppendInput{
			SessionID: session.ID,
			Kind:      enums.EventKindMessage,
			SenderID:  sender,
			Payload:   MessagePayload{Kind: enums.MessageKindText, Body: "x"},
		})
		require.NoError(t, err)
	}

	events, err := svc.ReadSince(context.Background(), session.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)

	events, err = svc.ReadSince(context.Background(), session.ID, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNotifyForwardsCommittedEvents(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusActive)

	var mu sync.Mutex
	var seen []int64
	svc.SetSink(func(event *models.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Seq)
	})

	for i := 0; i < 3; i++ {
		_, err := svc.Append(context.Background(), AppendInput{
			SessionID: session.ID,
			Kind:      enums.EventKindMessage,
			SenderID:  uuid.New(),
			Payload:   MessagePayload{Kind: enums.MessageKindText, Body: "y"},
		})
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestAppendInTxRidesCallerTransaction(t *testing.T) {
	conn := setupEventLogTestDB(t)
	svc := newEventLogService(t, conn)
	session := seedSession(t, conn, enums.SessionStatusActive)
	client := pkgdb.FromConn(conn)

	release, err := svc.LockSession(context.Background(), session.ID)
	require.NoError(t, err)
	defer release()

	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		event, txErr := svc.AppendInTx(context.Background(), tx, AppendInput{
			SessionID: session.ID,
			Kind:      enums.EventKindSessionEnded,
			SenderID:  session.SellerID,
			Payload:   SessionEndedPayload{EndedBy: session.SellerID},
		})
		if txErr != nil {
			return txErr
		}
		assert.Equal(t, int64(1), event.Seq)
		return nil
	})
	require.NoError(t, err)

	events, err := svc.ReadSince(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventKindSessionEnded, events[0].Kind)
}
