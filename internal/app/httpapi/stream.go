package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/metrics"
	"github.com/lanternhq/lantern-api/internal/app/pubsub"
	"github.com/lanternhq/lantern-api/internal/errors"
	"github.com/lanternhq/lantern-api/internal/middleware"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 45 * time.Second
)

// stream upgrades the connection to a websocket and relays notification
// events for the authenticated user until the client disconnects.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, r, errors.Unauthorized(""))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.IncWebsocketClients()
	defer metrics.DecWebsocketClients()

	// The request context ends once the connection is hijacked, so the
	// subscription runs on its own context tied to the socket.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, unsubscribe, err := h.app.Bus.Subscribe(ctx, pubsub.TopicNotificationCreated)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("subscribe notification stream")
		return
	}
	defer unsubscribe()

	// Reader goroutine: consume control frames and detect disconnect.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event notification.Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				h.log.WithContext(ctx).WithError(err).Warn("decode stream event")
				continue
			}
			if event.UserID != userID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
