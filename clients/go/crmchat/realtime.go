package crmchat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// State is the realtime client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Clock abstracts time so reconnect and timeout behavior is testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Wire is the minimal transport surface the realtime client needs. A
// *websocket.Conn satisfies it.
type Wire interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a fresh wire. It is called once per connection
// attempt.
type DialFunc func(ctx context.Context) (Wire, error)

// WebSocketDialer returns a DialFunc connecting to the given ws URL.
func WebSocketDialer(url string) DialFunc {
	return func(ctx context.Context) (Wire, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Wire envelope, mirroring the server protocol.
type envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

const (
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultAckTimeout   = 5 * time.Second
	defaultHeartbeat    = 30 * time.Second
	defaultDedupeWindow = 3 * time.Second
)

// RealtimeClient maintains the push channel: it dials, registers the
// session, reconnects with capped exponential backoff, probes liveness
// with heartbeats, and deduplicates deliveries. Sends fall back to the
// HTTP path when no ack arrives in time.
type RealtimeClient struct {
	Dial  DialFunc
	Clock Clock

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	AckTimeout   time.Duration
	Heartbeat    time.Duration
	DedupeWindow time.Duration

	// OnMessage and OnNotification are invoked from the read loop; they
	// must not block.
	OnMessage      func(Message)
	OnNotification func(text string, ts time.Time)
	OnStateChange  func(State)

	api *Client

	mu       sync.Mutex
	state    State
	wire     Wire
	userID   string
	pending  map[string]chan envelope
	seenIDs  map[string]time.Time
	seenText map[string]time.Time
	pongCh   chan struct{}
}

// NewRealtimeClient creates a realtime client on top of an HTTP client
// that already holds a session token.
func NewRealtimeClient(api *Client, wsURL string) *RealtimeClient {
	return &RealtimeClient{
		Dial:         WebSocketDialer(wsURL),
		Clock:        systemClock{},
		MinBackoff:   defaultMinBackoff,
		MaxBackoff:   defaultMaxBackoff,
		AckTimeout:   defaultAckTimeout,
		Heartbeat:    defaultHeartbeat,
		DedupeWindow: defaultDedupeWindow,
		api:          api,
		pending:      make(map[string]chan envelope),
		seenIDs:      make(map[string]time.Time),
		seenText:     make(map[string]time.Time),
		pongCh:       make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (rc *RealtimeClient) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// UserID returns the id confirmed by the last successful registration.
func (rc *RealtimeClient) UserID() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.userID
}

func (rc *RealtimeClient) setState(s State) {
	rc.mu.Lock()
	changed := rc.state != s
	rc.state = s
	cb := rc.OnStateChange
	rc.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

func (rc *RealtimeClient) setWire(w Wire) {
	rc.mu.Lock()
	rc.wire = w
	rc.mu.Unlock()
}

// Run drives the connection until ctx is canceled. Each failed attempt
// doubles the delay up to MaxBackoff; a successful registration resets
// it.
func (rc *RealtimeClient) Run(ctx context.Context) error {
	delay := rc.MinBackoff
	for {
		rc.setState(StateConnecting)
		w, err := rc.Dial(ctx)
		if err == nil {
			if err = rc.register(w); err == nil {
				rc.setWire(w)
				rc.setState(StateConnected)
				delay = rc.MinBackoff
				rc.session(ctx, w)
				rc.setWire(nil)
			} else {
				w.Close()
			}
		}

		if ctx.Err() != nil {
			rc.setState(StateDisconnected)
			return ctx.Err()
		}

		rc.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			rc.setState(StateDisconnected)
			return ctx.Err()
		case <-rc.Clock.After(delay):
		}
		delay *= 2
		if delay > rc.MaxBackoff {
			delay = rc.MaxBackoff
		}
	}
}

// register sends the session token and waits for confirmation. The
// server does not push before registration, so reading inline is safe.
func (rc *RealtimeClient) register(w Wire) error {
	out := outEnvelope{
		Type: "register",
		ID:   ulid.Make().String(),
		Data: map[string]string{"token": rc.api.Token},
	}
	if err := w.WriteJSON(out); err != nil {
		return err
	}

	for {
		var env envelope
		if err := w.ReadJSON(&env); err != nil {
			return err
		}
		switch env.Type {
		case "registered":
			var data struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return err
			}
			rc.mu.Lock()
			rc.userID = data.UserID
			rc.mu.Unlock()
			return nil
		case "error":
			var data struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			json.Unmarshal(env.Data, &data)
			return fmt.Errorf("registration rejected: %s: %s", data.Code, data.Message)
		default:
			// stray frame from a previous connection; ignore
		}
	}
}

// session runs the read loop until the wire fails. The heartbeat
// goroutine closes the wire when pongs stop arriving, which surfaces
// here as a read error.
func (rc *RealtimeClient) session(ctx context.Context, w Wire) {
	done := make(chan struct{})
	defer close(done)
	go rc.heartbeat(ctx, w, done)

	for {
		var env envelope
		if err := w.ReadJSON(&env); err != nil {
			w.Close()
			return
		}
		rc.dispatch(env)
	}
}

// heartbeat probes the wire. A missed pong means the connection is
// half-dead even though reads still block, so the wire is closed to
// force a reconnect.
func (rc *RealtimeClient) heartbeat(ctx context.Context, w Wire, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			w.Close()
			return
		case <-rc.Clock.After(rc.Heartbeat):
		}

		// Drain a stale pong before probing
		select {
		case <-rc.pongCh:
		default:
		}

		if err := w.WriteJSON(outEnvelope{Type: "ping"}); err != nil {
			w.Close()
			return
		}

		select {
		case <-done:
			return
		case <-ctx.Done():
			w.Close()
			return
		case <-rc.pongCh:
		case <-rc.Clock.After(rc.AckTimeout):
			w.Close()
			return
		}
	}
}

func (rc *RealtimeClient) dispatch(env envelope) {
	switch env.Type {
	case "message":
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if rc.duplicate(msg) {
			return
		}
		rc.mu.Lock()
		cb := rc.OnMessage
		rc.mu.Unlock()
		if cb != nil {
			cb(msg)
		}

	case "notification":
		var data struct {
			Text      string    `json:"text"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		rc.mu.Lock()
		cb := rc.OnNotification
		rc.mu.Unlock()
		if cb != nil {
			cb(data.Text, data.Timestamp)
		}

	case "pong":
		select {
		case rc.pongCh <- struct{}{}:
		default:
		}

	case "ack", "error":
		if env.ID == "" {
			return
		}
		rc.mu.Lock()
		ch := rc.pending[env.ID]
		rc.mu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// duplicate reports whether msg was already delivered. Redelivery of
// the same id is dropped, as is a same-sender same-text copy whose
// timestamp falls within the dedupe window; the latter covers the case
// where a lost ack made the sender retry over HTTP.
func (rc *RealtimeClient) duplicate(msg Message) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.Clock.Now()
	for id, t := range rc.seenIDs {
		if now.Sub(t) > 10*rc.DedupeWindow {
			delete(rc.seenIDs, id)
		}
	}
	for k, t := range rc.seenText {
		if now.Sub(t) > 10*rc.DedupeWindow {
			delete(rc.seenText, k)
		}
	}

	if _, ok := rc.seenIDs[msg.ID]; ok {
		return true
	}
	key := msg.From + "\x00" + msg.Text
	if prev, ok := rc.seenText[key]; ok {
		diff := msg.Timestamp.Sub(prev)
		if diff < 0 {
			diff = -diff
		}
		if diff <= rc.DedupeWindow {
			rc.seenIDs[msg.ID] = now
			return true
		}
	}

	rc.seenIDs[msg.ID] = now
	rc.seenText[key] = msg.Timestamp
	return false
}

// Send delivers a message, preferring the push channel. When the wire
// is down, the write fails, or no ack arrives within AckTimeout, it
// falls back to the HTTP path.
func (rc *RealtimeClient) Send(ctx context.Context, to, text string) (*Message, error) {
	id := ulid.Make().String()
	ch := make(chan envelope, 1)

	rc.mu.Lock()
	w := rc.wire
	rc.pending[id] = ch
	rc.mu.Unlock()
	defer func() {
		rc.mu.Lock()
		delete(rc.pending, id)
		rc.mu.Unlock()
	}()

	if w != nil {
		out := outEnvelope{
			Type: "send",
			ID:   id,
			Data: map[string]any{"to": to, "text": text},
		}
		if err := w.WriteJSON(out); err == nil {
			select {
			case env := <-ch:
				if env.Type == "ack" {
					var data struct {
						MessageID string    `json:"messageId"`
						Timestamp time.Time `json:"timestamp"`
					}
					if err := json.Unmarshal(env.Data, &data); err == nil {
						return &Message{
							ID:        data.MessageID,
							From:      rc.UserID(),
							To:        to,
							Text:      text,
							Timestamp: data.Timestamp,
						}, nil
					}
				}
				// typed server error; the HTTP path reports it properly
			case <-rc.Clock.After(rc.AckTimeout):
				// ack lost or never sent; sendHTTP verifies before retrying
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return rc.sendHTTP(to, text)
}

// sendHTTP is the fallback path. If it fails too, the conversation
// history is checked: the push attempt may have persisted even though
// its ack never arrived.
func (rc *RealtimeClient) sendHTTP(to, text string) (*Message, error) {
	msg, err := rc.api.SendMessage(to, text, nil)
	if err == nil {
		return msg, nil
	}

	history, herr := rc.api.History(to)
	if herr == nil {
		self := rc.UserID()
		for i := len(history) - 1; i >= 0; i-- {
			m := history[i]
			if m.From == self && m.To == to && m.Text == text {
				return &m, nil
			}
		}
	}
	return nil, err
}

// MarkRead flips the given messages to read over the push channel,
// falling back to HTTP.
func (rc *RealtimeClient) MarkRead(ctx context.Context, ids []string) error {
	id := ulid.Make().String()
	ch := make(chan envelope, 1)

	rc.mu.Lock()
	w := rc.wire
	rc.pending[id] = ch
	rc.mu.Unlock()
	defer func() {
		rc.mu.Lock()
		delete(rc.pending, id)
		rc.mu.Unlock()
	}()

	if w != nil {
		out := outEnvelope{
			Type: "markRead",
			ID:   id,
			Data: map[string]any{"ids": ids},
		}
		if err := w.WriteJSON(out); err == nil {
			select {
			case env := <-ch:
				if env.Type == "ack" {
					return nil
				}
			case <-rc.Clock.After(rc.AckTimeout):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return rc.api.MarkRead(ids)
}
