// Package interfaces provides service interfaces for dependency injection.
package interfaces

import (
	"context"

	"github.com/ternarybob/authrelay/internal/models"
)

// SecretsService encrypts and decrypts stored credentials with a
// process-wide symmetric key
type SecretsService interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// CookieCache holds live session cookies keyed by (platform id, account key).
// All operations are safe for concurrent use; Stats returns a snapshot that
// is immediately consistent with completed invalidations.
type CookieCache interface {
	// Get returns the cached entry for a key, or false when absent
	Get(platformID, key string) (*models.SessionEntry, bool)

	// Put stores a complete cookie set, replacing any previous entry
	// and resetting its validation metadata
	Put(platformID, key string, cookies []models.Cookie)

	// MarkValidated records a successful liveness check on an existing
	// entry in place. Returns false if the entry no longer exists.
	MarkValidated(platformID, key string) bool

	// Invalidate removes one entry. Returns false when absent.
	Invalidate(platformID, key string) bool

	// InvalidatePlatform removes every entry for a platform and
	// returns the number removed
	InvalidatePlatform(platformID string) int

	// Clear removes all entries and returns the number removed
	Clear() int

	// Stats returns a deep-copied snapshot of cache contents
	Stats() *models.CacheStats
}

// ValidationResult is the outcome of a session liveness probe
type ValidationResult int

const (
	// SessionValid - the probe gave no sign the session is dead
	SessionValid ValidationResult = iota
	// SessionInvalid - the invalid indicator matched; the session is dead
	SessionInvalid
	// SessionUnknown - the probe itself failed; liveness is undetermined
	SessionUnknown
)

// SessionValidator probes whether a cached cookie set still represents
// a live session on its platform
type SessionValidator interface {
	Validate(ctx context.Context, platform *models.Platform, cookies []models.Cookie) ValidationResult
}

// LoginCapability performs a scripted login against a platform and
// returns the harvested session cookies. Failures carry a structured
// reason (see services/browser.LoginError).
type LoginCapability interface {
	Login(ctx context.Context, platform *models.Platform, creds models.Credentials) ([]models.Cookie, error)
}

// AuthResult is what the coordinator hands back for a cookie request
type AuthResult struct {
	PlatformID string          `json:"provider_id"`
	Key        string          `json:"key"`
	Cookies    []models.Cookie `json:"cookies"`
	FromCache  bool            `json:"from_cache"`
	// Degraded is set when cached cookies are returned without a
	// successful liveness check because the validation probe itself failed
	Degraded bool `json:"degraded,omitempty"`
}

// AuthCoordinator orchestrates cache lookup, session validation, and
// single-flight re-authentication per (platform id, account key)
type AuthCoordinator interface {
	GetCookies(ctx context.Context, platformID, key string) (*AuthResult, error)
}
