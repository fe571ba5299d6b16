// Package ws is the real-time transport boundary: WebSocket endpoints
// speaking JSON envelopes over one duplex connection per client. The
// chat hub and the notification hub are deliberately independent, each
// registering connections into its own registry.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/notify"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the router layer
	},
}

// ChatHub serves the chat channel: register, push-path send, mark-read.
type ChatHub struct {
	relay  *relay.Relay
	logger zerolog.Logger
}

// NewChatHub creates the chat hub.
func NewChatHub(r *relay.Relay, logger zerolog.Logger) *ChatHub {
	return &ChatHub{relay: r, logger: logger.With().Str("component", "ws-chat").Logger()}
}

// Handle upgrades the request and runs the connection's read loop until
// disconnect, which is the only cancellation signal.
func (h *ChatHub) Handle(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	conn := newConn(raw)
	defer func() {
		h.relay.Unregister(conn)
		metrics.ConnectionsActive.WithLabelValues("chat").Set(float64(h.relay.Registry().Len()))
		raw.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go pingLoop(ctx, raw)

	var token string
	registered := false

	for {
		var env Envelope
		if err := raw.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case TypeRegister:
			var data RegisterData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				conn.reply(env.ID, TypeError, ErrorData{Code: "invalid-payload", Message: "malformed register payload"})
				continue
			}
			userID, err := h.relay.Register(ctx, data.Token, conn)
			if err != nil {
				conn.reply(env.ID, TypeError, errorData(err))
				continue
			}
			token = data.Token
			registered = true
			metrics.ConnectionsActive.WithLabelValues("chat").Set(float64(h.relay.Registry().Len()))
			conn.reply(env.ID, TypeRegistered, RegisteredData{UserID: userID})

		case TypeSend:
			if !registered {
				conn.reply(env.ID, TypeError, ErrorData{Code: "not-registered", Message: "register before sending"})
				continue
			}
			var data SendData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				conn.reply(env.ID, TypeError, ErrorData{Code: "invalid-payload", Message: "malformed send payload"})
				continue
			}
			msg, err := h.relay.SendMessageLive(ctx, token, relay.SendInput{
				To:         data.To,
				Text:       data.Text,
				Attachment: data.Attachment,
			})
			if err != nil {
				conn.reply(env.ID, TypeError, errorData(err))
				continue
			}
			conn.reply(env.ID, TypeAck, AckData{MessageID: msg.ID, Timestamp: msg.Timestamp})

		case TypeMarkRead:
			if !registered {
				conn.reply(env.ID, TypeError, ErrorData{Code: "not-registered", Message: "register before marking read"})
				continue
			}
			var data MarkReadData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				conn.reply(env.ID, TypeError, ErrorData{Code: "invalid-payload", Message: "malformed markRead payload"})
				continue
			}
			if err := h.relay.MarkAsRead(ctx, token, data.IDs); err != nil {
				conn.reply(env.ID, TypeError, errorData(err))
				continue
			}
			conn.reply(env.ID, TypeAck, nil)

		case TypePing:
			conn.reply(env.ID, TypePong, nil)

		default:
			conn.reply(env.ID, TypeError, ErrorData{Code: "unknown-type", Message: "unsupported message type: " + env.Type})
		}
	}
}

// NotifyHub serves the notification channel: register and server pushes
// only; clients never send anything but register and ping.
type NotifyHub struct {
	notifier *notify.Notifier
	logger   zerolog.Logger
}

// NewNotifyHub creates the notification hub.
func NewNotifyHub(n *notify.Notifier, logger zerolog.Logger) *NotifyHub {
	return &NotifyHub{notifier: n, logger: logger.With().Str("component", "ws-notify").Logger()}
}

// Handle upgrades the request and keeps the connection registered until
// disconnect.
func (h *NotifyHub) Handle(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	conn := newConn(raw)
	defer func() {
		h.notifier.Unregister(conn)
		metrics.ConnectionsActive.WithLabelValues("notify").Set(float64(h.notifier.Registry().Len()))
		raw.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go pingLoop(ctx, raw)

	for {
		var env Envelope
		if err := raw.ReadJSON(&env); err != nil {
			return
		}
		raw.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case TypeRegister:
			var data RegisterData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				conn.reply(env.ID, TypeError, ErrorData{Code: "invalid-payload", Message: "malformed register payload"})
				continue
			}
			userID, err := h.notifier.Register(ctx, data.Token, conn)
			if err != nil {
				conn.reply(env.ID, TypeError, errorData(err))
				continue
			}
			metrics.ConnectionsActive.WithLabelValues("notify").Set(float64(h.notifier.Registry().Len()))
			conn.reply(env.ID, TypeRegistered, RegisteredData{UserID: userID})

		case TypePing:
			conn.reply(env.ID, TypePong, nil)

		default:
			conn.reply(env.ID, TypeError, ErrorData{Code: "unknown-type", Message: "unsupported message type: " + env.Type})
		}
	}
}

// pingLoop keeps the transport alive with protocol-level pings while
// the connection is open.
func pingLoop(ctx context.Context, raw *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// errorData maps typed relay/notify failures onto wire error codes.
func errorData(err error) ErrorData {
	switch {
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, notify.ErrUnauthorized):
		return ErrorData{Code: "unauthorized", Message: "no valid session"}
	case errors.Is(err, relay.ErrInvalidID), errors.Is(err, notify.ErrInvalidID):
		return ErrorData{Code: "invalid-id", Message: "invalid id format"}
	case errors.Is(err, relay.ErrEmptyMessage):
		return ErrorData{Code: "empty-message", Message: "message text is empty"}
	case errors.Is(err, relay.ErrNotRegistered):
		return ErrorData{Code: "not-registered", Message: "no active registration"}
	case errors.Is(err, relay.ErrNotFound):
		return ErrorData{Code: "not-found", Message: "not found"}
	default:
		return ErrorData{Code: "upstream", Message: "operation failed"}
	}
}
