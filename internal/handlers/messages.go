package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/models"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/relay"
)

// SendMessageRequest is the HTTP-path send payload.
type SendMessageRequest struct {
	To         string             `json:"to"`
	Text       string             `json:"text"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// SendMessage is the HTTP fallback for clients whose push channel is
// down. Persistence and best-effort push semantics are identical to the
// push path; only the registration precondition differs.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token := middleware.TokenFromContext(r.Context())
	msg, err := h.relay.SendMessage(r.Context(), token, relay.SendInput{
		To:         req.To,
		Text:       req.Text,
		Attachment: req.Attachment,
	})
	if err != nil {
		h.relayError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// History returns the full two-way conversation with the user in the
// URL, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	otherID := chi.URLParam(r, "userID")
	token := middleware.TokenFromContext(r.Context())

	messages, err := h.relay.History(r.Context(), token, otherID)
	if err != nil {
		h.relayError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// MarkReadRequest lists message ids to flip to read.
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkRead marks the listed messages as read. Idempotent; ids that are
// unknown, foreign, or already read are skipped.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token := middleware.TokenFromContext(r.Context())
	if err := h.relay.MarkAsRead(r.Context(), token, req.IDs); err != nil {
		h.relayError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UnreadCount returns how many persisted messages addressed to the
// caller are still unread.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())

	count, err := h.relay.UnreadCount(r.Context(), token)
	if err != nil {
		h.relayError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]int{"count": count})
}
