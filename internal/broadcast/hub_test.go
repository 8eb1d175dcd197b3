package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

func newTestHub(t *testing.T, buffer int) *Hub {
	t.Helper()

	hub, err := NewHub(
		config.BroadcastConfig{SubscriberBuffer: buffer, ChannelPrefix: "af:test"},
		logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)
	return hub
}

func testEvent(sessionID uuid.UUID, seq int64) *models.SessionEvent {
	return &models.SessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Seq:       seq,
		Kind:      enums.EventKindMessage,
		SenderID:  uuid.New(),
	}
}

func drain(t *testing.T, sub *Subscription, want int) []int64 {
	t.Helper()

	var seqs []int64
	timeout := time.After(2 * time.Second)
	for len(seqs) < want {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				t.Fatalf("channel closed after %d events, want %d", len(seqs), want)
			}
			seqs = append(seqs, event.Seq)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(seqs), want)
		}
	}
	return seqs
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := newTestHub(t, 8)
	ctx := context.Background()
	sessionID := uuid.New()

	sub, err := hub.Subscribe(ctx, sessionID, 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(ctx, sub)

	for i := int64(1); i <= 3; i++ {
		hub.Publish(ctx, testEvent(sessionID, i))
	}

	assert.Equal(t, []int64{1, 2, 3}, drain(t, sub, 3))
}

func TestPublishIsScopedToSession(t *testing.T) {
	hub := newTestHub(t, 8)
	ctx := context.Background()
	sessionA := uuid.New()
	sessionB := uuid.New()

	subA, err := hub.Subscribe(ctx, sessionA, 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(ctx, subA)

	subB, err := hub.Subscribe(ctx, sessionB, 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(ctx, subB)

	hub.Publish(ctx, testEvent(sessionA, 1))

	assert.Equal(t, []int64{1}, drain(t, subA, 1))
	select {
	case event := <-subB.Events():
		t.Fatalf("unexpected cross-session event seq=%d", event.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFloorFiltersReplayedEvents(t *testing.T) {
	hub := newTestHub(t, 8)
	ctx := context.Background()
	sessionID := uuid.New()

	// a reconnecting client already replayed seq 1-2 from the log
	sub, err := hub.Subscribe(ctx, sessionID, 2)
	require.NoError(t, err)
	defer hub.Unsubscribe(ctx, sub)

	hub.Publish(ctx, testEvent(sessionID, 1))
	hub.Publish(ctx, testEvent(sessionID, 2))
	hub.Publish(ctx, testEvent(sessionID, 3))

	assert.Equal(t, []int64{3}, drain(t, sub, 1))
}

func TestRaiseFloorIsMonotonic(t *testing.T) {
	sub := &Subscription{}
	sub.RaiseFloor(5)
	sub.RaiseFloor(3)
	assert.Equal(t, int64(5), sub.Floor())
	sub.RaiseFloor(9)
	assert.Equal(t, int64(9), sub.Floor())
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := newTestHub(t, 2)
	ctx := context.Background()
	sessionID := uuid.New()

	sub, err := hub.Subscribe(ctx, sessionID, 0)
	require.NoError(t, err)

	// fill the buffer without reading, then overflow it
	for i := int64(1); i <= 3; i++ {
		hub.Publish(ctx, testEvent(sessionID, i))
	}

	count, err := hub.Participants(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// the buffered events stay readable, then the channel closes
	seqs := drain(t, sub, 2)
	assert.Equal(t, []int64{1, 2}, seqs)
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestParticipantsTracksSubscribers(t *testing.T) {
	hub := newTestHub(t, 8)
	ctx := context.Background()
	sessionID := uuid.New()

	count, err := hub.Participants(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	subA, err := hub.Subscribe(ctx, sessionID, 0)
	require.NoError(t, err)
	subB, err := hub.Subscribe(ctx, sessionID, 0)
	require.NoError(t, err)

	count, err = hub.Participants(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	hub.Unsubscribe(ctx, subA)
	hub.Unsubscribe(ctx, subB)

	count, err = hub.Participants(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub(t, 8)
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, uuid.New(), 0)
	require.NoError(t, err)

	hub.Unsubscribe(ctx, sub)
	hub.Unsubscribe(ctx, sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
