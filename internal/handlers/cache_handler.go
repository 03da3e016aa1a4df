package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

// CacheHandler exposes inspection and eviction of the in-memory cookie
// cache. All routes are admin-only.
type CacheHandler struct {
	cache  interfaces.CookieCache
	audit  interfaces.AuditStorage
	logger arbor.ILogger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cache interfaces.CookieCache, audit interfaces.AuditStorage, logger arbor.ILogger) *CacheHandler {
	return &CacheHandler{
		cache:  cache,
		audit:  audit,
		logger: logger,
	}
}

// StatsHandler handles GET /api/cache/stats
func (h *CacheHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") || !RequireAdmin(w, r) {
		return
	}
	WriteJSON(w, http.StatusOK, h.cache.Stats())
}

// ClearHandler routes DELETE /api/cache, DELETE /api/cache/{id}, and
// DELETE /api/cache/{id}/{key}
func (h *CacheHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") || !RequireAdmin(w, r) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cache"), "/")
	switch {
	case rest == "":
		removed := h.cache.Clear()
		h.emit(r, models.AuditCacheClear, "", removed)
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"removed": removed,
		})
	case !strings.Contains(rest, "/"):
		removed := h.cache.InvalidatePlatform(rest)
		h.emit(r, models.AuditCacheClearPlatform, rest, removed)
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"removed": removed,
		})
	default:
		parts := strings.SplitN(rest, "/", 2)
		platformID, key := parts[0], parts[1]
		removed := 0
		if h.cache.Invalidate(platformID, key) {
			removed = 1
		}
		h.emit(r, models.AuditCacheClearEntry, platformID+"/"+key, removed)
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"removed": removed,
		})
	}
}

func (h *CacheHandler) emit(r *http.Request, action models.AuditAction, resourceID string, removed int) {
	event := &models.AuditEvent{
		Action:       action,
		ResourceType: models.ResourceCache,
		ResourceID:   resourceID,
		Role:         RoleFromContext(r.Context()),
		ClientIP:     ClientIP(r),
		Success:      true,
		Details: map[string]string{
			"removed": strconv.Itoa(removed),
		},
	}
	if err := h.audit.Append(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("action", string(action)).Msg("Failed to write audit event")
	}
}
