package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics records counters for the session core. A nil receiver or a
// nil registerer disables collection so tests can pass a zero value.
type SessionMetrics struct {
	eventsAppended    *prometheus.CounterVec
	reserveAttempts   *prometheus.CounterVec
	activeSubscribers *prometheus.GaugeVec
	droppedSubs       *prometheus.CounterVec
}

// NewSessionMetrics registers the session metrics on the provided registerer.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	if reg == nil {
		return &SessionMetrics{}
	}
	eventsAppended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_events_appended_total",
		Help: "Events appended to session logs.",
	}, []string{"kind"})
	reserveAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reserve_attempts_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	activeSubscribers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_subscribers",
		Help: "Currently connected session subscribers.",
	}, []string{"session"})
	droppedSubs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_subscribers_dropped_total",
		Help: "Subscribers disconnected for falling behind.",
	}, []string{"session"})
	reg.MustRegister(eventsAppended, reserveAttempts, activeSubscribers, droppedSubs)
	return &SessionMetrics{
		eventsAppended:    eventsAppended,
		reserveAttempts:   reserveAttempts,
		activeSubscribers: activeSubscribers,
		droppedSubs:       droppedSubs,
	}
}

// IncEventAppended increments the appended-event counter for an event kind.
func (m *SessionMetrics) IncEventAppended(kind string) {
	if m == nil || m.eventsAppended == nil {
		return
	}
	m.eventsAppended.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncReserveAttempt increments the reservation counter for an outcome.
func (m *SessionMetrics) IncReserveAttempt(outcome string) {
	if m == nil || m.reserveAttempts == nil {
		return
	}
	m.reserveAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SubscriberConnected bumps the subscriber gauge for a session.
func (m *SessionMetrics) SubscriberConnected(sessionID string) {
	if m == nil || m.activeSubscribers == nil {
		return
	}
	m.activeSubscribers.WithLabelValues(normalizeLabel(sessionID)).Inc()
}

// SubscriberDisconnected drops the subscriber gauge for a session.
func (m *SessionMetrics) SubscriberDisconnected(sessionID string) {
	if m == nil || m.activeSubscribers == nil {
		return
	}
	m.activeSubscribers.WithLabelValues(normalizeLabel(sessionID)).Dec()
}

// IncSubscriberDropped counts a slow subscriber that was disconnected.
func (m *SessionMetrics) IncSubscriberDropped(sessionID string) {
	if m == nil || m.droppedSubs == nil {
		return
	}
	m.droppedSubs.WithLabelValues(normalizeLabel(sessionID)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
