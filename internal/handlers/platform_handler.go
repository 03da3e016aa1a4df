package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

// PlatformHandler handles platform and account management requests
type PlatformHandler struct {
	storage       interfaces.PlatformStorage
	secrets       interfaces.SecretsService
	cache         interfaces.CookieCache
	audit         interfaces.AuditStorage
	validate      *validator.Validate
	allowTestURLs bool
	logger        arbor.ILogger
}

// NewPlatformHandler creates a new platform handler. allowTestURLs
// permits localhost login and validation targets; production
// deployments run with it off.
func NewPlatformHandler(storage interfaces.PlatformStorage, secrets interfaces.SecretsService, cache interfaces.CookieCache, audit interfaces.AuditStorage, allowTestURLs bool, logger arbor.ILogger) *PlatformHandler {
	return &PlatformHandler{
		storage:       storage,
		secrets:       secrets,
		cache:         cache,
		audit:         audit,
		validate:      validator.New(),
		allowTestURLs: allowTestURLs,
		logger:        logger,
	}
}

// platformRequest is the create/update payload for a platform.
// settle_delay_ms is exposed in milliseconds on the wire.
type platformRequest struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	LoginURL         string                 `json:"login_url"`
	UsernameSelector string                 `json:"username_selector"`
	PasswordSelector string                 `json:"password_selector"`
	SubmitSelector   string                 `json:"submit_selector"`
	SuccessIndicator models.IndicatorRule   `json:"success_indicator"`
	Validation       *models.ValidationRule `json:"validation,omitempty"`
	SettleDelayMS    int                    `json:"settle_delay_ms"`
	LoginIntervalMS  int                    `json:"login_interval_ms"`
}

func (req *platformRequest) toModel() *models.Platform {
	settle := time.Duration(req.SettleDelayMS) * time.Millisecond
	if req.SettleDelayMS == 0 {
		settle = 2 * time.Second
	}
	return &models.Platform{
		ID:               req.ID,
		Name:             req.Name,
		LoginURL:         req.LoginURL,
		UsernameSelector: req.UsernameSelector,
		PasswordSelector: req.PasswordSelector,
		SubmitSelector:   req.SubmitSelector,
		SuccessIndicator: req.SuccessIndicator,
		Validation:       req.Validation,
		SettleDelay:      settle,
		LoginInterval:    time.Duration(req.LoginIntervalMS) * time.Millisecond,
	}
}

// accountRequest is the create/update payload for an account. The
// password arrives in plaintext over the API and is encrypted before it
// touches storage.
type accountRequest struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ListPlatformsHandler handles GET /api/providers
func (h *PlatformHandler) ListPlatformsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	platforms, err := h.storage.ListPlatforms(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list platforms")
		WriteError(w, http.StatusInternalServerError, "Failed to list providers")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"providers": platforms,
		"count":     len(platforms),
	})
}

// CreatePlatformHandler handles POST /api/providers
func (h *PlatformHandler) CreatePlatformHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") || !RequireAdmin(w, r) {
		return
	}

	var req platformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	platform := req.toModel()
	if platform.ID == "" {
		platform.ID = uuid.New().String()
	}
	if err := h.validatePlatform(platform); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.SavePlatform(r.Context(), platform); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platform.ID).Msg("Failed to save platform")
		WriteError(w, http.StatusInternalServerError, "Failed to create provider")
		return
	}

	h.emit(r, models.AuditPlatformCreate, models.ResourcePlatform, platform.ID, true, map[string]string{
		"name": platform.Name,
	})
	WriteJSON(w, http.StatusCreated, platform)
}

// PlatformDetailHandler routes GET/PUT/DELETE /api/providers/{id}
func (h *PlatformHandler) PlatformDetailHandler(w http.ResponseWriter, r *http.Request, platformID string) {
	switch r.Method {
	case "GET":
		h.getPlatform(w, r, platformID)
	case "PUT":
		h.updatePlatform(w, r, platformID)
	case "DELETE":
		h.deletePlatform(w, r, platformID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PlatformHandler) getPlatform(w http.ResponseWriter, r *http.Request, platformID string) {
	platform, err := h.storage.GetPlatform(r.Context(), platformID)
	if err != nil {
		writeLookupError(w, err, "Provider not found")
		return
	}
	WriteJSON(w, http.StatusOK, platform)
}

func (h *PlatformHandler) updatePlatform(w http.ResponseWriter, r *http.Request, platformID string) {
	if !RequireAdmin(w, r) {
		return
	}

	existing, err := h.storage.GetPlatform(r.Context(), platformID)
	if err != nil {
		writeLookupError(w, err, "Provider not found")
		return
	}

	var req platformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	platform := req.toModel()
	platform.ID = platformID
	platform.CreatedAt = existing.CreatedAt
	if err := h.validatePlatform(platform); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.SavePlatform(r.Context(), platform); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to update platform")
		WriteError(w, http.StatusInternalServerError, "Failed to update provider")
		return
	}

	// Login configuration changed; cached sessions may no longer match it
	removed := h.cache.InvalidatePlatform(platformID)

	h.emit(r, models.AuditPlatformUpdate, models.ResourcePlatform, platformID, true, map[string]string{
		"cache_entries_removed": strconv.Itoa(removed),
	})
	WriteJSON(w, http.StatusOK, platform)
}

func (h *PlatformHandler) deletePlatform(w http.ResponseWriter, r *http.Request, platformID string) {
	if !RequireAdmin(w, r) {
		return
	}

	if err := h.storage.DeletePlatform(r.Context(), platformID); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to delete platform")
		WriteError(w, http.StatusInternalServerError, "Failed to delete provider")
		return
	}
	removed := h.cache.InvalidatePlatform(platformID)

	h.emit(r, models.AuditPlatformDelete, models.ResourcePlatform, platformID, true, map[string]string{
		"cache_entries_removed": strconv.Itoa(removed),
	})
	WriteSuccess(w, "Provider deleted")
}

// AccountsHandler routes /api/providers/{id}/accounts and
// /api/providers/{id}/accounts/{key}
func (h *PlatformHandler) AccountsHandler(w http.ResponseWriter, r *http.Request, platformID, rest string) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		switch r.Method {
		case "GET":
			h.listAccounts(w, r, platformID)
		case "POST":
			h.createAccount(w, r, platformID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	key := rest
	switch r.Method {
	case "GET":
		h.getAccount(w, r, platformID, key)
	case "PUT":
		h.updateAccount(w, r, platformID, key)
	case "DELETE":
		h.deleteAccount(w, r, platformID, key)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PlatformHandler) listAccounts(w http.ResponseWriter, r *http.Request, platformID string) {
	accounts, err := h.storage.ListAccounts(r.Context(), platformID)
	if err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to list accounts")
		WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

func (h *PlatformHandler) getAccount(w http.ResponseWriter, r *http.Request, platformID, key string) {
	account, err := h.storage.GetAccount(r.Context(), platformID, key)
	if err != nil {
		writeLookupError(w, err, "Account not found")
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (h *PlatformHandler) createAccount(w http.ResponseWriter, r *http.Request, platformID string) {
	if !RequireAdmin(w, r) {
		return
	}

	if _, err := h.storage.GetPlatform(r.Context(), platformID); err != nil {
		writeLookupError(w, err, "Provider not found")
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Key == "" || req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "key, username, and password are required")
		return
	}

	encrypted, err := h.secrets.Encrypt(req.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encrypt password")
		WriteError(w, http.StatusInternalServerError, "Failed to store account")
		return
	}

	account := &models.Account{
		PlatformID:        platformID,
		Key:               req.Key,
		Username:          req.Username,
		EncryptedPassword: encrypted,
	}
	if err := h.storage.SaveAccount(r.Context(), account); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to save account")
		WriteError(w, http.StatusInternalServerError, "Failed to store account")
		return
	}

	h.emit(r, models.AuditAccountCreate, models.ResourceAccount, platformID+"/"+req.Key, true, nil)
	WriteJSON(w, http.StatusCreated, account)
}

func (h *PlatformHandler) updateAccount(w http.ResponseWriter, r *http.Request, platformID, key string) {
	if !RequireAdmin(w, r) {
		return
	}

	existing, err := h.storage.GetAccount(r.Context(), platformID, key)
	if err != nil {
		writeLookupError(w, err, "Account not found")
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username != "" {
		existing.Username = req.Username
	}
	if req.Password != "" {
		encrypted, err := h.secrets.Encrypt(req.Password)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encrypt password")
			WriteError(w, http.StatusInternalServerError, "Failed to update account")
			return
		}
		existing.EncryptedPassword = encrypted
	}

	if err := h.storage.SaveAccount(r.Context(), existing); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to update account")
		WriteError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}

	// The cached session belonged to the old credentials
	h.cache.Invalidate(platformID, key)

	h.emit(r, models.AuditAccountUpdate, models.ResourceAccount, platformID+"/"+key, true, nil)
	WriteJSON(w, http.StatusOK, existing)
}

func (h *PlatformHandler) deleteAccount(w http.ResponseWriter, r *http.Request, platformID, key string) {
	if !RequireAdmin(w, r) {
		return
	}

	if err := h.storage.DeleteAccount(r.Context(), platformID, key); err != nil {
		h.logger.Error().Err(err).Str("platform_id", platformID).Msg("Failed to delete account")
		WriteError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}
	h.cache.Invalidate(platformID, key)

	h.emit(r, models.AuditAccountDelete, models.ResourceAccount, platformID+"/"+key, true, nil)
	WriteSuccess(w, "Account deleted")
}

// validatePlatform checks struct tags plus the closed indicator type set
func (h *PlatformHandler) validatePlatform(platform *models.Platform) error {
	if err := h.validate.Struct(platform); err != nil {
		return err
	}
	if !platform.SuccessIndicator.Type.IsValid() {
		return &validationError{field: "success_indicator.type", value: string(platform.SuccessIndicator.Type)}
	}
	if platform.Validation != nil && !platform.Validation.InvalidIndicator.Type.IsValid() {
		return &validationError{field: "validation.invalid_indicator.type", value: string(platform.Validation.InvalidIndicator.Type)}
	}
	if !h.allowTestURLs {
		if isTestURL(platform.LoginURL) {
			return &validationError{field: "login_url", value: platform.LoginURL}
		}
		if platform.Validation != nil && isTestURL(platform.Validation.URL) {
			return &validationError{field: "validation.url", value: platform.Validation.URL}
		}
	}
	return nil
}

// isTestURL reports whether the URL points at a loopback or link-local
// address. Such targets are only meaningful in development.
func isTestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "localhost", host == "::1", host == "0.0.0.0":
		return true
	case strings.HasPrefix(host, "127."):
		return true
	case strings.HasSuffix(host, ".localhost"):
		return true
	}
	return false
}

// writeLookupError maps a storage lookup failure to a response: absent
// records are 404, anything else is a storage fault
func writeLookupError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	WriteError(w, http.StatusInternalServerError, "Storage error")
}

type validationError struct {
	field string
	value string
}

func (e *validationError) Error() string {
	return "invalid value " + e.value + " for " + e.field
}

func (h *PlatformHandler) emit(r *http.Request, action models.AuditAction, resource models.AuditResource, resourceID string, success bool, details map[string]string) {
	event := &models.AuditEvent{
		Action:       action,
		ResourceType: resource,
		ResourceID:   resourceID,
		Role:         RoleFromContext(r.Context()),
		ClientIP:     ClientIP(r),
		Success:      success,
		Details:      details,
	}
	if err := h.audit.Append(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("action", string(action)).Msg("Failed to write audit event")
	}
}

