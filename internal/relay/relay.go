// Package relay implements the session-authenticated messaging relay:
// validate, persist via the CRM gateway, then best-effort push to the
// recipient's live connection. Persistence always succeeds or the send
// fails entirely; push failures are logged and counted, never surfaced
// to the sender.
package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/models"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/registry"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
)

// SendInput carries a send request after transport decoding.
type SendInput struct {
	To         string
	Text       string
	Attachment *models.Attachment
}

// Relay wires the CRM gateway, the session store, and its own
// connection registry. One instance serves both the push channel and
// the HTTP fallback path.
type Relay struct {
	gw       crm.Gateway
	sessions session.Store
	reg      *registry.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a relay. The registry must be owned by this relay alone;
// the notification channel gets its own instance.
func New(gw crm.Gateway, sessions session.Store, reg *registry.Registry, logger zerolog.Logger) *Relay {
	return &Relay{
		gw:       gw,
		sessions: sessions,
		reg:      reg,
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      time.Now,
	}
}

// Registry exposes the relay's registry for liveness queries.
func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

// authorize resolves the caller's session token. It is called at the
// top of every operation so that an unauthorized caller never reaches
// the CRM gateway.
func (r *Relay) authorize(ctx context.Context, token string) (string, error) {
	userID, err := r.sessions.Resolve(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: session store: %v", ErrUpstream, err)
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// Register binds the caller's live connection to their user id. The
// previous handle for that user, if any, is evicted (last write wins).
func (r *Relay) Register(ctx context.Context, token string, conn registry.Conn) (string, error) {
	userID, err := r.authorize(ctx, token)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(userID); err != nil {
		return "", ErrInvalidID
	}

	if prev := r.reg.Register(userID, conn); prev != nil {
		r.logger.Debug().Str("user", userID).Msg("previous connection evicted")
	}
	return userID, nil
}

// Unregister drops the registry entry holding conn, if any.
func (r *Relay) Unregister(conn registry.Conn) {
	r.reg.Unregister(conn)
}

// SendMessage is the HTTP-path send: a valid session is required but a
// registry entry is not, since this path exists precisely for senders
// whose push channel is down.
func (r *Relay) SendMessage(ctx context.Context, token string, in SendInput) (*models.ChatMessage, error) {
	from, err := r.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	return r.send(ctx, from, in, "http")
}

// SendMessageLive is the push-channel send: the sender must hold an
// active registry entry in addition to a valid session. A connected but
// unregistered sender is rejected with ErrNotRegistered, distinct from
// ErrUnauthorized.
func (r *Relay) SendMessageLive(ctx context.Context, token string, in SendInput) (*models.ChatMessage, error) {
	from, err := r.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, ok := r.reg.Lookup(from); !ok {
		return nil, ErrNotRegistered
	}
	return r.send(ctx, from, in, "push")
}

func (r *Relay) send(ctx context.Context, from string, in SendInput, path string) (*models.ChatMessage, error) {
	if _, err := uuid.Parse(in.To); err != nil {
		return nil, ErrInvalidID
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	// Persist first. The timestamp is server-assigned UTC; persistence
	// failure aborts the whole operation with no retry at this layer.
	ts := r.now().UTC()
	fields := map[string]any{
		crm.FieldFrom:      from,
		crm.FieldTo:        in.To,
		crm.FieldText:      text,
		crm.FieldTimestamp: ts.Format(crm.TimeLayout),
		crm.FieldIsRead:    false,
	}
	if att := in.Attachment; att != nil {
		fields[crm.FieldAttachName] = att.Name
		fields[crm.FieldAttachMime] = att.MimeType
		fields[crm.FieldAttachSize] = att.Size
		fields[crm.FieldAttachURL] = att.URL
	}

	id, err := r.gw.Create(ctx, crm.EntityMessage, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: persist message: %v", ErrUpstream, err)
	}
	metrics.MessagesSent.WithLabelValues(path).Inc()

	msg := &models.ChatMessage{
		ID:         id,
		From:       from,
		To:         in.To,
		Text:       text,
		Timestamp:  ts,
		Attachment: in.Attachment,
	}

	// Best-effort push: failure is logged and counted, never undone,
	// never surfaced to the sender.
	if conn, ok := r.reg.Lookup(in.To); ok {
		if err := conn.Send("message", msg); err != nil {
			metrics.PushesDropped.WithLabelValues("chat", "write_failed").Inc()
			r.logger.Warn().Err(err).Str("to", in.To).Str("message", id).Msg("push delivery failed")
		} else {
			metrics.PushesDelivered.Inc()
		}
	} else {
		metrics.PushesDropped.WithLabelValues("chat", "not_connected").Inc()
	}

	return msg, nil
}

// MarkAsRead flips isRead to true for each id addressed to the caller.
// Unknown ids are ignored; already-read messages are left untouched, so
// the operation is idempotent.
func (r *Relay) MarkAsRead(ctx context.Context, token string, ids []string) error {
	userID, err := r.authorize(ctx, token)
	if err != nil {
		return err
	}

	for _, id := range ids {
		rec, err := r.gw.Retrieve(ctx, crm.EntityMessage, id, []string{crm.FieldTo, crm.FieldIsRead})
		if err != nil {
			return fmt.Errorf("%w: retrieve message: %v", ErrUpstream, err)
		}
		if rec == nil {
			continue
		}
		if rec.String(crm.FieldTo) != userID || rec.Bool(crm.FieldIsRead) {
			continue
		}
		err = r.gw.Update(ctx, crm.EntityMessage, id, map[string]any{crm.FieldIsRead: true})
		if err != nil {
			return fmt.Errorf("%w: mark read: %v", ErrUpstream, err)
		}
	}
	return nil
}

// UnreadCount returns the number of persisted messages addressed to the
// caller that are still unread.
func (r *Relay) UnreadCount(ctx context.Context, token string) (int, error) {
	userID, err := r.authorize(ctx, token)
	if err != nil {
		return 0, err
	}

	records, err := r.unreadFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// History returns every message between the caller and otherID, in
// either direction, ordered by timestamp ascending. No pagination; the
// pair-conversation volumes this serves stay small.
func (r *Relay) History(ctx context.Context, token, otherID string) ([]models.ChatMessage, error) {
	userID, err := r.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(otherID); err != nil {
		return nil, ErrInvalidID
	}

	// The query model only ANDs conditions, so each direction is a
	// separate query and the merge happens here.
	sent, err := r.messagesBetween(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	received, err := r.messagesBetween(ctx, otherID, userID)
	if err != nil {
		return nil, err
	}

	history := append(sent, received...)
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].Timestamp.Equal(history[j].Timestamp) {
			return history[i].Timestamp.Before(history[j].Timestamp)
		}
		return history[i].ID < history[j].ID
	})
	return history, nil
}

// Contacts returns all other known users with their connection liveness
// and how many unread messages each has sent the caller.
func (r *Relay) Contacts(ctx context.Context, token string) ([]models.Contact, error) {
	userID, err := r.authorize(ctx, token)
	if err != nil {
		return nil, err
	}

	users, err := r.gw.RetrieveMultiple(ctx, crm.Query{
		EntityType: crm.EntityUser,
		Fields:     []string{crm.FieldUsername, crm.FieldFullName},
		OrderBy:    crm.FieldUsername,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", ErrUpstream, err)
	}

	unread, err := r.unreadFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	unreadBySender := make(map[string]int)
	for _, rec := range unread {
		unreadBySender[rec.String(crm.FieldFrom)]++
	}

	contacts := make([]models.Contact, 0, len(users))
	for _, rec := range users {
		id := rec.String(crm.FieldID)
		if id == userID {
			continue
		}
		_, online := r.reg.Lookup(id)
		contacts = append(contacts, models.Contact{
			ID:       id,
			Username: rec.String(crm.FieldUsername),
			FullName: rec.String(crm.FieldFullName),
			Online:   online,
			Unread:   unreadBySender[id],
		})
	}
	return contacts, nil
}

func (r *Relay) unreadFor(ctx context.Context, userID string) ([]crm.Record, error) {
	records, err := r.gw.RetrieveMultiple(ctx, crm.Query{
		EntityType: crm.EntityMessage,
		Fields:     []string{crm.FieldFrom},
		Conditions: []crm.Condition{
			{Field: crm.FieldTo, Op: crm.OpEqual, Value: userID},
			{Field: crm.FieldIsRead, Op: crm.OpEqual, Value: false},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: count unread: %v", ErrUpstream, err)
	}
	return records, nil
}

func (r *Relay) messagesBetween(ctx context.Context, from, to string) ([]models.ChatMessage, error) {
	records, err := r.gw.RetrieveMultiple(ctx, crm.Query{
		EntityType: crm.EntityMessage,
		Conditions: []crm.Condition{
			{Field: crm.FieldFrom, Op: crm.OpEqual, Value: from},
			{Field: crm.FieldTo, Op: crm.OpEqual, Value: to},
		},
		OrderBy: crm.FieldTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrUpstream, err)
	}

	messages := make([]models.ChatMessage, 0, len(records))
	for _, rec := range records {
		messages = append(messages, messageFromRecord(rec))
	}
	return messages, nil
}

func messageFromRecord(rec crm.Record) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        rec.String(crm.FieldID),
		From:      rec.String(crm.FieldFrom),
		To:        rec.String(crm.FieldTo),
		Text:      rec.String(crm.FieldText),
		Timestamp: rec.Time(crm.FieldTimestamp),
		IsRead:    rec.Bool(crm.FieldIsRead),
	}
	if rec.String(crm.FieldAttachURL) != "" || rec.String(crm.FieldAttachName) != "" {
		msg.Attachment = &models.Attachment{
			Name:     rec.String(crm.FieldAttachName),
			MimeType: rec.String(crm.FieldAttachMime),
			Size:     rec.Int64(crm.FieldAttachSize),
			URL:      rec.String(crm.FieldAttachURL),
		}
	}
	return msg
}
