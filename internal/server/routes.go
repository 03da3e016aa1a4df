package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Authentication
	mux.HandleFunc("/api/auth/cookie", s.app.AuthHandler.RequestCookieHandler) // POST - resolve cookies for (provider, key)
	mux.HandleFunc("/api/auth/role", s.app.AuthHandler.RoleHandler)            // GET - role of presented API key

	// API routes - Provider and account management
	mux.HandleFunc("/api/providers", s.handleProvidersRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/providers/", s.handleProviderRoutes)

	// API routes - Cookie cache
	mux.HandleFunc("/api/cache/stats", s.app.CacheHandler.StatsHandler)
	mux.HandleFunc("/api/cache", s.app.CacheHandler.ClearHandler)
	mux.HandleFunc("/api/cache/", s.app.CacheHandler.ClearHandler)

	// API routes - Audit trail
	mux.HandleFunc("/api/logs/stats", s.app.AuditHandler.StatsHandler)
	mux.HandleFunc("/api/logs", s.app.AuditHandler.ListHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProvidersRoute routes /api/providers requests (list and create)
func (s *Server) handleProvidersRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.PlatformHandler.ListPlatformsHandler,
		s.app.PlatformHandler.CreatePlatformHandler)
}

// handleProviderRoutes routes /api/providers/{id} and
// /api/providers/{id}/accounts[/{key}] requests
func (s *Server) handleProviderRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/providers/"), "/")
	if rest == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// /{id}/accounts and /{id}/accounts/{key}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		platformID := rest[:idx]
		sub := rest[idx+1:]
		if sub == "accounts" || strings.HasPrefix(sub, "accounts/") {
			s.app.PlatformHandler.AccountsHandler(w, r, platformID, strings.TrimPrefix(sub, "accounts"))
			return
		}
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// /{id}
	s.app.PlatformHandler.PlatformDetailHandler(w, r, rest)
}
