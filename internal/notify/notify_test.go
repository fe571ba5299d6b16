package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/registry"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
)

type captureConn struct {
	events   []string
	payloads []any
	sendErr  error
}

func (c *captureConn) Send(event string, payload any) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureConn) Close() error { return nil }

func newNotifier() (*Notifier, session.Store) {
	sessions := session.NewMemory(time.Hour)
	return New(sessions, registry.New(), zerolog.Nop()), sessions
}

func TestRegisterRequiresSession(t *testing.T) {
	n, _ := newNotifier()

	_, err := n.Register(context.Background(), "no-such-token", &captureConn{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestNotifyDeliversToRegisteredConn(t *testing.T) {
	n, sessions := newNotifier()
	userID := uuid.NewString()
	token, _ := sessions.Create(context.Background(), userID)

	conn := &captureConn{}
	if _, err := n.Register(context.Background(), token, conn); err != nil {
		t.Fatal(err)
	}

	n.Notify(userID, "case assigned")

	if len(conn.events) != 1 || conn.events[0] != "notification" {
		t.Fatalf("expected one notification event, got %v", conn.events)
	}
	note, ok := conn.payloads[0].(Notification)
	if !ok || note.Text != "case assigned" {
		t.Fatalf("unexpected payload %v", conn.payloads[0])
	}
}

func TestNotifyWithoutConnectionIsSilent(t *testing.T) {
	n, _ := newNotifier()

	// Must not panic or error.
	n.Notify(uuid.NewString(), "nobody listening")
}

func TestNotifyWriteFailureIsSwallowed(t *testing.T) {
	n, sessions := newNotifier()
	userID := uuid.NewString()
	token, _ := sessions.Create(context.Background(), userID)

	conn := &captureConn{sendErr: errors.New("broken pipe")}
	if _, err := n.Register(context.Background(), token, conn); err != nil {
		t.Fatal(err)
	}

	n.Notify(userID, "lost")

	if len(conn.events) != 0 {
		t.Fatalf("no event should have been recorded, got %v", conn.events)
	}
}

func TestReRegisterEvictsPreviousHandle(t *testing.T) {
	n, sessions := newNotifier()
	userID := uuid.NewString()
	token, _ := sessions.Create(context.Background(), userID)

	old := &captureConn{}
	fresh := &captureConn{}
	if _, err := n.Register(context.Background(), token, old); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Register(context.Background(), token, fresh); err != nil {
		t.Fatal(err)
	}

	n.Notify(userID, "hello")

	if len(old.events) != 0 {
		t.Fatal("evicted handle must not receive pushes")
	}
	if len(fresh.events) != 1 {
		t.Fatalf("new handle should receive the push, got %v", fresh.events)
	}
}
