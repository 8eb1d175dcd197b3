package controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antiquefeed/antiquefeed-backend/api/responses"
	"github.com/antiquefeed/antiquefeed-backend/internal/broadcast"
	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	sessionsvc "github.com/antiquefeed/antiquefeed-backend/internal/livesessions"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

const subscribePingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SubscribeSession upgrades the request to a websocket, replays the log from
// after_seq, then streams live events. Replayed and live events never overlap
// because the subscription floor is raised to the last replayed sequence.
func SubscribeSession(hub *broadcast.Hub, events eventlog.Service, sessions sessionsvc.Service, cfg config.BroadcastConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil || events == nil || sessions == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "broadcast service unavailable"))
			return
		}

		sessionID, err := uuidParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := sessions.Get(r.Context(), sessionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		afterSeq, err := afterSeqParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the handshake failure to the client.
			if logg != nil {
				logg.Error(r.Context(), "subscribe.upgrade_failed", err)
			}
			return
		}
		defer conn.Close()

		ctx := r.Context()

		sub, err := hub.Subscribe(ctx, sessionID, afterSeq)
		if err != nil {
			writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
			return
		}
		defer hub.Unsubscribe(ctx, sub)

		// Registering before the replay means events arriving during the
		// catch-up read are buffered, not lost; the floor filters the
		// overlap.
		lastSeq := afterSeq
		for {
			page, readErr := events.ReadSince(ctx, sessionID, lastSeq, defaultEventPageSize)
			if readErr != nil {
				writeClose(conn, websocket.CloseInternalServerErr, "replay failed")
				return
			}
			for i := range page {
				if writeErr := writeEvent(conn, cfg.SendTimeout, &page[i]); writeErr != nil {
					return
				}
				lastSeq = page[i].Seq
			}
			if len(page) < defaultEventPageSize {
				break
			}
		}
		sub.RaiseFloor(lastSeq)

		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(512)
			for {
				if _, _, readErr := conn.ReadMessage(); readErr != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(subscribePingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				writeClose(conn, websocket.CloseGoingAway, "server shutting down")
				return
			case <-done:
				return
			case <-ping.C:
				deadline := time.Now().Add(cfg.SendTimeout)
				if pingErr := conn.WriteControl(websocket.PingMessage, nil, deadline); pingErr != nil {
					return
				}
			case event, ok := <-sub.Events():
				if !ok {
					// The hub dropped this subscriber for falling behind.
					writeClose(conn, websocket.ClosePolicyViolation, "subscriber too slow")
					return
				}
				// an event committed during the replay read sits in the buffer
				// even though the replay already delivered it; skip anything at
				// or below the highest sequence written so far
				if event.Seq <= lastSeq {
					continue
				}
				if writeErr := writeEvent(conn, cfg.SendTimeout, event); writeErr != nil {
					return
				}
				lastSeq = event.Seq
				sub.RaiseFloor(lastSeq)
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, timeout time.Duration, event any) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return conn.WriteJSON(event)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
