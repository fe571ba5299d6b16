package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/models"
)

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the minted session token and the user's own
// record. The token is the only credential clients hold afterwards.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login verifies credentials against the CRM user record and mints a
// session. Unknown username and wrong password are indistinguishable to
// the caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	records, err := h.gw.RetrieveMultiple(r.Context(), crm.Query{
		EntityType: crm.EntityUser,
		Fields:     []string{crm.FieldUsername, crm.FieldFullName, crm.FieldEmail, crm.FieldPasswordHash},
		Conditions: []crm.Condition{
			{Field: crm.FieldUsername, Op: crm.OpEqual, Value: username},
		},
		Limit: 1,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("user lookup failed")
		h.Error(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if len(records) == 0 {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	rec := records[0]
	hash := rec.String(crm.FieldPasswordHash)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	userID := rec.String(crm.FieldID)
	token, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("session creation failed")
		h.Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	metrics.SessionsCreated.Inc()

	h.logger.Info().Str("user", userID).Msg("login")
	h.JSON(w, http.StatusOK, LoginResponse{
		Token: token,
		User: models.User{
			ID:       userID,
			Username: rec.String(crm.FieldUsername),
			FullName: rec.String(crm.FieldFullName),
			Email:    rec.String(crm.FieldEmail),
		},
	})
}

// Logout deletes the caller's session. The token stops resolving
// immediately; live connections registered under it stay up until they
// drop on their own.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if err := h.sessions.Delete(r.Context(), token); err != nil {
		h.Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
