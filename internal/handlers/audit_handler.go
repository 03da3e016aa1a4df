package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

const defaultAuditLimit = 100

// AuditHandler exposes the audit trail. Admin-only.
type AuditHandler struct {
	audit  interfaces.AuditStorage
	logger arbor.ILogger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit interfaces.AuditStorage, logger arbor.ILogger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// ListHandler handles GET /api/logs with query filters:
// action, resource_type, resource_id, success, since, until, limit, offset
func (h *AuditHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") || !RequireAdmin(w, r) {
		return
	}

	q := r.URL.Query()
	query := &models.AuditQuery{
		Action:       models.AuditAction(q.Get("action")),
		ResourceType: models.AuditResource(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
		Limit:        GetIntParam(r, "limit", defaultAuditLimit),
		Offset:       GetIntParam(r, "offset", 0),
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid success parameter")
			return
		}
		query.Success = &success
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid since parameter, expected RFC3339")
			return
		}
		query.Since = since
	}
	if raw := q.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid until parameter, expected RFC3339")
			return
		}
		query.Until = until
	}

	events, err := h.audit.Query(r.Context(), query)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to query audit events")
		WriteError(w, http.StatusInternalServerError, "Failed to query audit events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// StatsHandler handles GET /api/logs/stats
func (h *AuditHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") || !RequireAdmin(w, r) {
		return
	}

	stats, err := h.audit.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute audit stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute audit stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
