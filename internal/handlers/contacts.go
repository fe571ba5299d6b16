package handlers

import (
	"net/http"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
)

// Contacts lists every other known user with online state and unread
// counts, ordered by username.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())

	contacts, err := h.relay.Contacts(r.Context(), token)
	if err != nil {
		h.relayError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}
