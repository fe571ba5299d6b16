package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NotifyRequest is the notification payload.
type NotifyRequest struct {
	Text string `json:"text"`
}

// Notify pushes a fire-and-forget notification string to the target
// user's notification connection. A target without a live connection is
// not an error; the response is identical either way, so callers cannot
// probe who is online through this endpoint.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userID")
	if _, err := uuid.Parse(targetID); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid id format")
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.Error(w, http.StatusBadRequest, "notification text is empty")
		return
	}

	h.notifier.Notify(targetID, text)
	h.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
