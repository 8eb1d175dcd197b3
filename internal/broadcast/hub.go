package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
	"github.com/antiquefeed/antiquefeed-backend/pkg/metrics"
)

// Bridge fans events out across instances. Satisfied by pkg/redis.Client.
type Bridge interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) (*goredis.PubSub, error)
}

// PresenceStore tracks participant counts across instances.
type PresenceStore interface {
	IncrPresence(ctx context.Context, sessionID string) (int64, error)
	DecrPresence(ctx context.Context, sessionID string) (int64, error)
	GetPresence(ctx context.Context, sessionID string) (int64, error)
}

// Subscription is one consumer's handle on a session's live event stream.
// Events at or below the floor are filtered out so catch-up reads and live
// delivery never hand the consumer a duplicate.
type Subscription struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	ch    chan *models.SessionEvent
	floor atomic.Int64
	once  sync.Once
}

// Events returns the live delivery channel. The hub closes it when the
// subscriber is dropped or unsubscribed.
func (s *Subscription) Events() <-chan *models.SessionEvent {
	return s.ch
}

// RaiseFloor lifts the dedupe floor to seq if it is higher than the current
// one. Called after catch-up delivery with the last replayed sequence.
func (s *Subscription) RaiseFloor(seq int64) {
	for {
		current := s.floor.Load()
		if seq <= current || s.floor.CompareAndSwap(current, seq) {
			return
		}
	}
}

// Floor returns the current dedupe floor.
func (s *Subscription) Floor() int64 {
	return s.floor.Load()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub routes committed session events to local subscribers, optionally
// bridging through Redis pub/sub when the platform runs more than one
// instance.
type Hub struct {
	cfg      config.BroadcastConfig
	logg     *logger.Logger
	metrics  *metrics.SessionMetrics
	bridge   Bridge
	presence PresenceStore

	mu     sync.RWMutex
	topics map[uuid.UUID]map[uuid.UUID]*Subscription
}

// NewHub builds a broadcast hub. Both bridge and presence may be nil for
// single-instance deployments.
func NewHub(cfg config.BroadcastConfig, logg *logger.Logger, m *metrics.SessionMetrics, bridge Bridge, presence PresenceStore) (*Hub, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	return &Hub{
		cfg:      cfg,
		logg:     logg,
		metrics:  m,
		bridge:   bridge,
		presence: presence,
		topics:   make(map[uuid.UUID]map[uuid.UUID]*Subscription),
	}, nil
}

// Subscribe registers a consumer for a session's live events. Registration
// happens before any catch-up read so no committed event can fall between
// replay and live delivery.
func (h *Hub) Subscribe(ctx context.Context, sessionID uuid.UUID, afterSeq int64) (*Subscription, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("session id required")
	}

	sub := &Subscription{
		ID:        uuid.New(),
		SessionID: sessionID,
		ch:        make(chan *models.SessionEvent, h.cfg.SubscriberBuffer),
	}
	sub.floor.Store(afterSeq)

	h.mu.Lock()
	subs, ok := h.topics[sessionID]
	if !ok {
		subs = make(map[uuid.UUID]*Subscription)
		h.topics[sessionID] = subs
	}
	subs[sub.ID] = sub
	h.mu.Unlock()

	if h.presence != nil {
		if _, err := h.presence.IncrPresence(ctx, sessionID.String()); err != nil {
			h.logg.Warn(h.logg.WithSessionID(ctx, sessionID.String()), "presence increment failed")
		}
	}
	h.metrics.SubscriberConnected(sessionID.String())

	return sub, nil
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	if h.remove(sub) {
		if h.presence != nil {
			if _, err := h.presence.DecrPresence(ctx, sub.SessionID.String()); err != nil {
				h.logg.Warn(h.logg.WithSessionID(ctx, sub.SessionID.String()), "presence decrement failed")
			}
		}
		h.metrics.SubscriberDisconnected(sub.SessionID.String())
	}
	sub.close()
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.SessionID]
	if !ok {
		return false
	}
	if _, ok := subs[sub.ID]; !ok {
		return false
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.topics, sub.SessionID)
	}
	return true
}

// Publish pushes a committed event to subscribers. With a bridge configured
// the event travels through Redis only, so every instance (this one included)
// delivers it exactly once from the bridge loop.
func (h *Hub) Publish(ctx context.Context, event *models.SessionEvent) {
	if event == nil {
		return
	}

	if h.bridge != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logg.Error(ctx, "marshaling broadcast event", err)
			return
		}
		if err := h.bridge.Publish(ctx, h.channelFor(event.SessionID), payload); err != nil {
			h.logg.Error(h.logg.WithSessionID(ctx, event.SessionID.String()), "bridge publish failed", err)
		}
		return
	}

	h.deliverLocal(ctx, event)
}

func (h *Hub) deliverLocal(ctx context.Context, event *models.SessionEvent) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.topics[event.SessionID]))
	for _, sub := range h.topics[event.SessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if event.Seq <= sub.Floor() {
			continue
		}
		select {
		case sub.ch <- event:
			sub.RaiseFloor(event.Seq)
		default:
			// full buffer means the consumer fell behind; drop it and let
			// the client reconnect with after_seq
			h.logg.Warn(h.logg.WithSessionID(ctx, event.SessionID.String()), "dropping slow subscriber")
			h.metrics.IncSubscriberDropped(event.SessionID.String())
			h.Unsubscribe(ctx, sub)
		}
	}
}

// Run consumes the bridge subscription until ctx is cancelled. No-op without
// a bridge.
func (h *Hub) Run(ctx context.Context) error {
	if h.bridge == nil {
		<-ctx.Done()
		return nil
	}

	pubsub, err := h.bridge.PSubscribe(ctx, h.cfg.ChannelPrefix+":*")
	if err != nil {
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	defer func() { _ = pubsub.Close() }()

	h.logg.Info(ctx, "broadcast bridge running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return fmt.Errorf("bridge channel closed")
			}
			var event models.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logg.Error(ctx, "decoding bridged event", err)
				continue
			}
			h.deliverLocal(ctx, &event)
		}
	}
}

// Participants reports how many consumers are watching a session. With a
// presence store the count spans instances; otherwise it is local.
func (h *Hub) Participants(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	if h.presence != nil {
		return h.presence.GetPresence(ctx, sessionID.String())
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return int64(len(h.topics[sessionID])), nil
}

func (h *Hub) channelFor(sessionID uuid.UUID) string {
	return h.cfg.ChannelPrefix + ":" + sessionID.String()
}
