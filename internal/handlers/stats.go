package handlers

import (
	"net/http"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
)

// StatsResponse reports relay liveness counts.
type StatsResponse struct {
	TotalUsers        int `json:"total_users"`
	ChatConnections   int `json:"chat_connections"`
	NotifyConnections int `json:"notify_connections"`
}

// Stats returns user and connection counts. Connection counts are
// per-process; the registries are not shared across instances.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	users, err := h.gw.RetrieveMultiple(r.Context(), crm.Query{
		EntityType: crm.EntityUser,
		Fields:     []string{crm.FieldUsername},
	})
	if err != nil {
		h.Error(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:        len(users),
		ChatConnections:   h.relay.Registry().Len(),
		NotifyConnections: h.notifier.Registry().Len(),
	})
}
