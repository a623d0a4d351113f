package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/notify"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is a command sent by a connected client or driver.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type replyFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type sendMessageData struct {
	RideID  string `json:"rideId"`
	Message string `json:"message"`
}

type rideResponseData struct {
	RideID string `json:"rideId"`
	Accept bool   `json:"accept"`
}

// Websocket streams the caller's events and accepts commands on the same
// connection. Drivers also receive the drivers topic and admins the admin
// topic.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}

	user := h.hub.Subscribe(actor.ID)
	var topic *notify.Subscription
	switch actor.Role {
	case dispatch.RoleDriver:
		topic = h.hub.Subscribe(events.TopicDrivers)
	case dispatch.RoleAdmin:
		topic = h.hub.Subscribe(events.TopicAdmin)
	}
	replies := make(chan replyFrame, 16)
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		user.Close()
		if topic != nil {
			topic.Close()
		}
		conn.Close()
		if actor.Role == dispatch.RoleDriver {
			if _, err := h.dispatcher.SetDriverOnline(context.Background(), actor.ID, false); err != nil {
				h.log.Debug("driver stays online after disconnect", "driver_id", actor.ID, "error", err)
			}
		}
		h.log.Info("ws disconnected", "user_id", actor.ID)
	}()
	h.log.Info("ws connected", "user_id", actor.ID, "role", actor.Role)

	go h.writePump(ctx, cancel, conn, user, topic, replies)
	h.readPump(ctx, conn, actor, replies)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, actor dispatch.Actor, replies chan<- replyFrame) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				reply(ctx, replies, errorFrame("INVALID_PAYLOAD", "malformed frame"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("ws read failed", "user_id", actor.ID, "error", err)
			}
			return
		}
		reply(ctx, replies, h.handleFrame(ctx, actor, frame))
	}
}

// writePump owns every write on conn: events, command replies and pings.
// topic is nil for callers without a topic subscription.
func (h *Handler) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, user, topic *notify.Subscription, replies <-chan replyFrame) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	var topicEvents <-chan events.Event
	if topic != nil {
		topicEvents = topic.Events()
	}
	for {
		var (
			evt events.Event
			ok  bool
		)
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case f := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
			continue
		case evt, ok = <-user.Events():
		case evt, ok = <-topicEvents:
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			// Hub stopped.
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

func reply(ctx context.Context, replies chan<- replyFrame, f replyFrame) {
	select {
	case replies <- f:
	case <-ctx.Done():
	}
}

func (h *Handler) handleFrame(ctx context.Context, actor dispatch.Actor, frame inboundFrame) replyFrame {
	var err error
	var result any
	switch frame.Type {
	case "update_location":
		var p geo.Point
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			result, err = h.dispatcher.UpdateDriverLocation(ctx, actor.ID, p)
		}
	case "set_online":
		var payload onlinePayload
		if err = json.Unmarshal(frame.Data, &payload); err == nil {
			result, err = h.dispatcher.SetDriverOnline(ctx, actor.ID, payload.Online)
		}
	case "send_message":
		var payload sendMessageData
		if err = json.Unmarshal(frame.Data, &payload); err == nil {
			result, err = h.dispatcher.SendChatMessage(ctx, payload.RideID, actor.ID, payload.Message)
		}
	case "ride_response":
		if actor.Role != dispatch.RoleDriver {
			return errorFrame("ACCESS_DENIED", "only drivers respond to offers")
		}
		var payload rideResponseData
		if err = json.Unmarshal(frame.Data, &payload); err == nil {
			if payload.Accept {
				result, err = h.dispatcher.AcceptRide(ctx, payload.RideID, actor.ID)
			} else {
				err = h.dispatcher.DeclineRide(ctx, payload.RideID, actor.ID)
			}
		}
	default:
		return errorFrame("UNKNOWN_TYPE", "unknown frame type "+frame.Type)
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return errorFrame("INVALID_PAYLOAD", "invalid data for "+frame.Type)
		}
		_, code := errorStatus(err)
		return errorFrame(code, err.Error())
	}
	return replyFrame{Type: frame.Type + "_ok", Data: result}
}

func errorFrame(code, msg string) replyFrame {
	return replyFrame{Type: "error", Data: errorBody{Code: code, Error: msg}}
}
