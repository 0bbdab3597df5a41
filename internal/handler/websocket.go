package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"fleetmap/internal/domain"
	"fleetmap/internal/engine"
	"fleetmap/internal/geolocation"
	"fleetmap/internal/hub"
	"fleetmap/internal/selection"
)

// Inbound message types sent by map clients
const (
	MsgLocation      = "location"
	MsgLocationError = "location_error"
	MsgClick         = "click"
	MsgSelect        = "select"
	MsgTracking      = "tracking"
	MsgLocate        = "locate"
	MsgPing          = "ping"
)

// LocationSink receives device positions reported by the browser
type LocationSink interface {
	Publish(loc domain.LiveLocation)
	Fail(err error)
}

type WSHandler struct {
	hub       *hub.Hub
	engine    Engine
	locations LocationSink
	logger    *slog.Logger
}

func NewWSHandler(h *hub.Hub, e Engine, locations LocationSink, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:       h,
		engine:    e,
		locations: locations,
		logger:    logger.With("component", "websocket"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type LocationErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type SelectPayload struct {
	Index int `json:"index"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), 256)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// queued on the loop so deltas applied after it reach the client after it
	if err := h.engine.Observe(ctx, func(s engine.Snapshot) {
		h.hub.SendTo(client, hub.TypeSnapshot, s)
	}); err != nil {
		h.logger.Warn("initial snapshot failed", "client_id", client.ID, "error", err)
	}

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		if err := h.dispatch(ctx, client, msg); err != nil {
			h.logger.Debug("message rejected", "client_id", client.ID, "type", msg.Type, "error", err)
			h.hub.SendTo(client, hub.TypeError, hub.ErrorPayload{
				Kind:    domain.Classify(err),
				Message: err.Error(),
			})
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *hub.Client, msg WSMessage) error {
	switch msg.Type {
	case MsgLocation:
		var loc domain.LiveLocation
		if err := json.Unmarshal(msg.Payload, &loc); err != nil {
			return invalidPayload(err)
		}
		h.locations.Publish(loc)

	case MsgLocationError:
		var p LocationErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return invalidPayload(err)
		}
		h.locations.Fail(geolocation.ErrorFromCode(p.Code, p.Message))

	case MsgClick:
		var target selection.ClickTarget
		if err := json.Unmarshal(msg.Payload, &target); err != nil {
			return invalidPayload(err)
		}
		return h.engine.OnMapClick(ctx, target)

	case MsgSelect:
		var p SelectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return invalidPayload(err)
		}
		return h.engine.OnStationSelected(ctx, p.Index)

	case MsgTracking:
		var p TrackingBody
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return invalidPayload(err)
		}
		return h.engine.OnTrackingToggled(ctx, p.On)

	case MsgLocate:
		return h.engine.GoToMyLocation(ctx)

	case MsgPing:
		h.hub.SendTo(client, "pong", nil)
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func invalidPayload(err error) error {
	return fmt.Errorf("%w: invalid payload: %w", domain.ErrInvariantViolation, err)
}
