// Package notify implements the one-way notification relay. It owns a
// registry separate from the chat relay's; the two channels never share
// connection state. Notifications are not persisted here: a user
// without a live connection simply misses the push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/registry"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidID    = errors.New("invalid id format")
	ErrUpstream     = errors.New("upstream unavailable")
)

// Notification is the payload pushed to a registered connection.
type Notification struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier relays fire-and-forget notification strings to at most one
// registered connection per user.
type Notifier struct {
	sessions session.Store
	reg      *registry.Registry
	logger   zerolog.Logger
}

// New creates a notifier with its own registry instance.
func New(sessions session.Store, reg *registry.Registry, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sessions: sessions,
		reg:      reg,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Registry exposes the notifier's registry.
func (n *Notifier) Registry() *registry.Registry {
	return n.reg
}

// Register binds the caller's connection, evicting any previous handle
// for the same user.
func (n *Notifier) Register(ctx context.Context, token string, conn registry.Conn) (string, error) {
	userID, err := n.sessions.Resolve(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: session store: %v", ErrUpstream, err)
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	if _, err := uuid.Parse(userID); err != nil {
		return "", ErrInvalidID
	}

	if prev := n.reg.Register(userID, conn); prev != nil {
		n.logger.Debug().Str("user", userID).Msg("previous connection evicted")
	}
	return userID, nil
}

// Unregister drops the registry entry holding conn, if any.
func (n *Notifier) Unregister(conn registry.Conn) {
	n.reg.Unregister(conn)
}

// Notify pushes text to userID's connection. Users without a live
// connection are skipped silently; a failed write is logged and
// counted, nothing more.
func (n *Notifier) Notify(userID, text string) {
	conn, ok := n.reg.Lookup(userID)
	if !ok {
		metrics.PushesDropped.WithLabelValues("notify", "not_connected").Inc()
		return
	}

	payload := Notification{Text: text, Timestamp: time.Now().UTC()}
	if err := conn.Send("notification", payload); err != nil {
		metrics.PushesDropped.WithLabelValues("notify", "write_failed").Inc()
		n.logger.Warn().Err(err).Str("user", userID).Msg("notification push failed")
		return
	}
	metrics.NotificationsSent.Inc()
}
