package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/services/browser"
	"github.com/ternarybob/authrelay/internal/services/coordinator"
)

// AuthHandler handles cookie requests from automation clients
type AuthHandler struct {
	coordinator interfaces.AuthCoordinator
	logger      arbor.ILogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(coord interfaces.AuthCoordinator, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		coordinator: coord,
		logger:      logger,
	}
}

// cookieRequest is the body of POST /api/auth/cookie
type cookieRequest struct {
	ProviderID string `json:"provider_id"`
	Key        string `json:"key"`
}

// RequestCookieHandler handles POST /api/auth/cookie. Returns live
// session cookies for the requested account, logging in on demand.
func (h *AuthHandler) RequestCookieHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req cookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProviderID == "" || req.Key == "" {
		WriteError(w, http.StatusBadRequest, "provider_id and key are required")
		return
	}

	result, err := h.coordinator.GetCookies(r.Context(), req.ProviderID, req.Key)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// RoleHandler returns the role associated with the caller's API key
func (h *AuthHandler) RoleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"role": RoleFromContext(r.Context()),
	})
}

// writeAuthError maps coordinator failures to HTTP responses. Reason
// codes surface verbatim so automation clients can branch on them.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrPlatformNotFound),
		errors.Is(err, coordinator.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	var credErr *coordinator.CredentialError
	if errors.As(err, &credErr) {
		// Never echo decryption internals to clients
		WriteError(w, http.StatusInternalServerError, "Stored credentials could not be decrypted")
		return
	}

	var loginErr *browser.LoginError
	if errors.As(err, &loginErr) {
		status := http.StatusBadGateway
		switch loginErr.Kind {
		case browser.FailureTimeout:
			status = http.StatusGatewayTimeout
		case browser.FailureUnknown:
			status = http.StatusInternalServerError
		}
		WriteJSON(w, status, map[string]string{
			"status": "error",
			"error":  loginErr.Error(),
			"reason": string(loginErr.Kind),
		})
		return
	}

	h.logger.Error().Err(err).Msg("Unclassified authentication failure")
	WriteError(w, http.StatusInternalServerError, "Authentication failed")
}
