package ws

import (
	"encoding/json"
	"time"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/models"
)

// Envelope frames every client-to-server message. ID is an optional
// client correlation id echoed back on the matching reply, so the
// client can pair acks with in-flight sends.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound frames every server-to-client message.
type Outbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client-to-server message types.
const (
	TypeRegister = "register"
	TypeSend     = "send"
	TypeMarkRead = "markRead"
	TypePing     = "ping"
)

// Server-to-client message types.
const (
	TypeRegistered   = "registered"
	TypeAck          = "ack"
	TypeMessage      = "message"
	TypeNotification = "notification"
	TypeError        = "error"
	TypePong         = "pong"
)

// RegisterData carries the caller's session token.
type RegisterData struct {
	Token string `json:"token"`
}

// RegisteredData confirms a registration.
type RegisteredData struct {
	UserID string `json:"userId"`
}

// SendData is a push-channel send request.
type SendData struct {
	To         string             `json:"to"`
	Text       string             `json:"text"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// AckData confirms a send with the persisted message id.
type AckData struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// MarkReadData lists message ids to flip to read.
type MarkReadData struct {
	IDs []string `json:"ids"`
}

// ErrorData reports a typed failure to the client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
