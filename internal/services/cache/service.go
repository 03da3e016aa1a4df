// Package cache provides the in-memory session cookie cache.
// Entries are keyed by (platform id, account key) and live until they
// are proven invalid or explicitly cleared; there is no time-based
// expiry policy.
package cache

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

// Service implements the CookieCache interface
type Service struct {
	mu      sync.RWMutex
	entries map[string]map[string]*models.SessionEntry
	logger  arbor.ILogger
}

var _ interfaces.CookieCache = (*Service)(nil)

// NewService creates a new cookie cache service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		entries: make(map[string]map[string]*models.SessionEntry),
		logger:  logger,
	}
}

// Get returns a copy of the cached entry for a key, or false when absent.
// Callers never see the live entry, so in-place metadata updates cannot
// race with readers.
func (s *Service) Get(platformID, key string) (*models.SessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[platformID][key]
	if !ok {
		return nil, false
	}
	return copyEntry(entry), true
}

// Put stores a complete cookie set, replacing any previous entry for the
// key and resetting its validation metadata
func (s *Service) Put(platformID, key string, cookies []models.Cookie) {
	now := time.Now()
	entry := &models.SessionEntry{
		Cookies:         append([]models.Cookie(nil), cookies...),
		CreatedAt:       now,
		LastValidatedAt: now,
		ValidationCount: 0,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[platformID] == nil {
		s.entries[platformID] = make(map[string]*models.SessionEntry)
	}
	s.entries[platformID][key] = entry

	s.logger.Debug().
		Str("platform_id", platformID).
		Str("key", key).
		Int("cookies", len(cookies)).
		Msg("Cached session cookies")
}

// MarkValidated records a successful liveness check on an existing entry.
// The cookies themselves are untouched; only last_validated_at and the
// validation counter move. Returns false if the entry no longer exists.
func (s *Service) MarkValidated(platformID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[platformID][key]
	if !ok {
		return false
	}
	entry.LastValidatedAt = time.Now()
	entry.ValidationCount++
	return true
}

// Invalidate removes one entry. Returns false when it was absent.
func (s *Service) Invalidate(platformID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[platformID][key]; !ok {
		return false
	}
	delete(s.entries[platformID], key)
	if len(s.entries[platformID]) == 0 {
		delete(s.entries, platformID)
	}

	s.logger.Debug().
		Str("platform_id", platformID).
		Str("key", key).
		Msg("Invalidated cached session")
	return true
}

// InvalidatePlatform removes every entry for a platform and returns the
// number removed. Other platforms are untouched.
func (s *Service) InvalidatePlatform(platformID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.entries[platformID])
	delete(s.entries, platformID)

	if count > 0 {
		s.logger.Debug().
			Str("platform_id", platformID).
			Int("removed", count).
			Msg("Invalidated platform cache")
	}
	return count
}

// Clear removes all entries and returns the number removed
func (s *Service) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, keys := range s.entries {
		count += len(keys)
	}
	s.entries = make(map[string]map[string]*models.SessionEntry)

	s.logger.Debug().Int("removed", count).Msg("Cleared cookie cache")
	return count
}

// Stats returns a deep-copied snapshot of cache contents. Entries
// removed before the call never appear in the snapshot.
func (s *Service) Stats() *models.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.CacheStats{
		Platforms: make(map[string]models.PlatformStats),
	}
	for platformID, keys := range s.entries {
		ps := models.PlatformStats{
			Count:   len(keys),
			Entries: make([]models.EntryStats, 0, len(keys)),
		}
		for key, entry := range keys {
			ps.Entries = append(ps.Entries, models.EntryStats{
				Key:             key,
				CreatedAt:       entry.CreatedAt,
				LastValidatedAt: entry.LastValidatedAt,
				ValidationCount: entry.ValidationCount,
			})
		}
		stats.Platforms[platformID] = ps
		stats.TotalEntries += len(keys)
	}
	return stats
}

func copyEntry(entry *models.SessionEntry) *models.SessionEntry {
	return &models.SessionEntry{
		Cookies:         append([]models.Cookie(nil), entry.Cookies...),
		CreatedAt:       entry.CreatedAt,
		LastValidatedAt: entry.LastValidatedAt,
		ValidationCount: entry.ValidationCount,
	}
}
