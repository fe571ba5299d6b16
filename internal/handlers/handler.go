// Package handlers contains the HTTP handlers: login/logout, the HTTP
// fallback path for sending, history, read receipts, contacts, and the
// operational endpoints. Everything except login, health, and the root
// sits behind the session middleware.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/notify"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/relay"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	relay    *relay.Relay
	notifier *notify.Notifier
	sessions session.Store
	gw       crm.Gateway
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(r *relay.Relay, n *notify.Notifier, sessions session.Store, gw crm.Gateway, logger zerolog.Logger) *Handler {
	return &Handler{
		relay:    r,
		notifier: n,
		sessions: sessions,
		gw:       gw,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// relayError maps typed relay failures onto HTTP statuses.
func (h *Handler) relayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrUnauthorized):
		h.Error(w, http.StatusUnauthorized, "invalid or expired session")
	case errors.Is(err, relay.ErrInvalidID):
		h.Error(w, http.StatusBadRequest, "invalid id format")
	case errors.Is(err, relay.ErrEmptyMessage):
		h.Error(w, http.StatusBadRequest, "message text is empty")
	case errors.Is(err, relay.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, relay.ErrUpstream):
		h.Error(w, http.StatusBadGateway, "upstream unavailable")
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
