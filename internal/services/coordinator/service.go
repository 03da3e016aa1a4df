// Package coordinator orchestrates cookie requests: cache lookup,
// on-demand session validation, and single-flight re-authentication
// per (platform id, account key).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
	"github.com/ternarybob/authrelay/internal/services/browser"
)

// slot represents one in-flight authentication for a key. Waiters block
// on done, which is closed exactly once when the owner resolves.
type slot struct {
	done   chan struct{}
	once   sync.Once
	result *interfaces.AuthResult
	err    error
}

// Service implements the AuthCoordinator interface
type Service struct {
	storage      interfaces.PlatformStorage
	secrets      interfaces.SecretsService
	cache        interfaces.CookieCache
	validator    interfaces.SessionValidator
	login        interfaces.LoginCapability
	audit        interfaces.AuditStorage
	loginTimeout time.Duration
	logger       arbor.ILogger

	mu    sync.Mutex
	slots map[string]*slot
}

var _ interfaces.AuthCoordinator = (*Service)(nil)

// NewService creates a new auth coordinator
func NewService(
	storage interfaces.PlatformStorage,
	secrets interfaces.SecretsService,
	cache interfaces.CookieCache,
	validator interfaces.SessionValidator,
	login interfaces.LoginCapability,
	audit interfaces.AuditStorage,
	loginTimeout time.Duration,
	logger arbor.ILogger,
) *Service {
	if loginTimeout <= 0 {
		loginTimeout = 2 * time.Minute
	}
	return &Service{
		storage:      storage,
		secrets:      secrets,
		cache:        cache,
		validator:    validator,
		login:        login,
		audit:        audit,
		loginTimeout: loginTimeout,
		logger:       logger,
		slots:        make(map[string]*slot),
	}
}

func slotKey(platformID, key string) string {
	return platformID + "/" + key
}

// GetCookies returns live session cookies for an account, logging in on
// demand. Concurrent requests for the same key collapse onto a single
// login; requests for different keys proceed independently.
//
// The order is deliberate: in-flight slot first, then cache, then slot
// creation. Creating the slot is the linearization point - exactly one
// caller wins it and owns the login.
func (s *Service) GetCookies(ctx context.Context, platformID, key string) (*interfaces.AuthResult, error) {
	// An in-flight login for this key supersedes whatever the cache
	// holds; its outcome is fresher than any cached entry
	if sl := s.currentSlot(platformID, key); sl != nil {
		return s.await(ctx, platformID, key, sl)
	}

	platform, err := s.storage.GetPlatform(ctx, platformID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.emit(ctx, models.AuditAuthFailure, platformID, key, false, map[string]string{
				"reason": "platform_not_found",
			})
			return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, platformID)
		}
		s.emit(ctx, models.AuditAuthFailure, platformID, key, false, map[string]string{
			"reason": "storage_error",
		})
		return nil, fmt.Errorf("platform lookup failed: %w", err)
	}

	// Cached session, validated on use when the platform defines a probe
	if entry, ok := s.cache.Get(platformID, key); ok {
		result, invalid := s.serveFromCache(ctx, platform, key, entry)
		if !invalid {
			return result, nil
		}
		// Proven dead: evicted, fall through to a fresh login
	}

	// Linearization point: first caller to install the slot owns the
	// login, everyone else joins it
	s.mu.Lock()
	if existing, ok := s.slots[slotKey(platformID, key)]; ok {
		s.mu.Unlock()
		return s.await(ctx, platformID, key, existing)
	}
	sl := &slot{done: make(chan struct{})}
	s.slots[slotKey(platformID, key)] = sl
	s.mu.Unlock()

	// The slot must resolve no matter how this flight ends. A panic in
	// the login path would otherwise strand it, wedging the key for
	// every later request.
	defer func() {
		if r := recover(); r != nil {
			s.resolve(platformID, key, sl, nil, fmt.Errorf("authentication aborted: panic: %v", r))
			panic(r)
		}
	}()

	// Another flight may have resolved between our cache miss and the
	// slot install; its result is current, reuse it
	if entry, ok := s.cache.Get(platformID, key); ok {
		result := &interfaces.AuthResult{
			PlatformID: platformID,
			Key:        key,
			Cookies:    entry.Cookies,
			FromCache:  true,
		}
		s.resolve(platformID, key, sl, result, nil)
		s.emit(ctx, models.AuditAuthCacheHit, platformID, key, true, nil)
		return result, nil
	}

	result, err := s.authenticate(ctx, platform, key)
	s.resolve(platformID, key, sl, result, err)
	if err != nil {
		s.emit(ctx, models.AuditAuthFailure, platformID, key, false, map[string]string{
			"reason": failureReason(err),
		})
		return nil, err
	}
	s.emit(ctx, models.AuditAuthSuccess, platformID, key, true, map[string]string{
		"cookies": fmt.Sprintf("%d", len(result.Cookies)),
	})
	return result, nil
}

// currentSlot returns the in-flight slot for a key, if any
func (s *Service) currentSlot(platformID, key string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slotKey(platformID, key)]
}

// await blocks until an in-flight login resolves and returns its outcome.
// Every waiter receives the identical result.
func (s *Service) await(ctx context.Context, platformID, key string, sl *slot) (*interfaces.AuthResult, error) {
	select {
	case <-sl.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if sl.err != nil {
		s.emit(ctx, models.AuditAuthFailure, platformID, key, false, map[string]string{
			"reason":    failureReason(sl.err),
			"coalesced": "true",
		})
		return nil, sl.err
	}
	s.emit(ctx, models.AuditAuthSuccess, platformID, key, true, map[string]string{
		"coalesced": "true",
	})
	return sl.result, nil
}

// resolve publishes the outcome and removes the slot. The slot is gone
// before done is closed, so late arrivals start a fresh cycle instead of
// joining a finished one. Resolving twice is a no-op, so the panic
// backstop in GetCookies cannot double-close done.
func (s *Service) resolve(platformID, key string, sl *slot, result *interfaces.AuthResult, err error) {
	sl.once.Do(func() {
		sl.result = result
		sl.err = err

		s.mu.Lock()
		delete(s.slots, slotKey(platformID, key))
		s.mu.Unlock()

		close(sl.done)
	})
}

// serveFromCache validates a cached entry and builds the cache-hit
// result. Returns invalid=true when the session is proven dead; the
// entry has been evicted and the caller should re-authenticate.
func (s *Service) serveFromCache(ctx context.Context, platform *models.Platform, key string, entry *models.SessionEntry) (*interfaces.AuthResult, bool) {
	result := &interfaces.AuthResult{
		PlatformID: platform.ID,
		Key:        key,
		Cookies:    entry.Cookies,
		FromCache:  true,
	}

	if platform.Validation == nil {
		s.emit(ctx, models.AuditAuthCacheHit, platform.ID, key, true, nil)
		return result, false
	}

	switch s.validator.Validate(ctx, platform, entry.Cookies) {
	case interfaces.SessionValid:
		s.cache.MarkValidated(platform.ID, key)
		s.emit(ctx, models.AuditAuthCacheHit, platform.ID, key, true, nil)
		return result, false

	case interfaces.SessionUnknown:
		// The probe failed, not the session. Cached cookies are still
		// the best available answer; flag the reduced confidence.
		result.Degraded = true
		s.emit(ctx, models.AuditAuthCacheHit, platform.ID, key, true, map[string]string{
			"degraded": "true",
		})
		return result, false

	default: // SessionInvalid
		s.cache.Invalidate(platform.ID, key)
		s.logger.Info().
			Str("platform_id", platform.ID).
			Str("key", key).
			Msg("Cached session proven invalid, re-authenticating")
		return nil, true
	}
}

// authenticate owns a full login cycle: decrypt credentials, run the
// scripted login under the coordinator's timeout, cache the cookies
func (s *Service) authenticate(ctx context.Context, platform *models.Platform, key string) (*interfaces.AuthResult, error) {
	account, err := s.storage.GetAccount(ctx, platform.ID, key)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, platform.ID, key)
		}
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	password, err := s.secrets.Decrypt(account.EncryptedPassword)
	if err != nil {
		// Corrupt ciphertext or wrong key; a retry cannot succeed
		return nil, &CredentialError{PlatformID: platform.ID, Key: key, Err: err}
	}
	creds := models.Credentials{
		Username: account.Username,
		Password: password,
	}

	// The coordinator, not the login capability, owns the time bound
	loginCtx, cancel := context.WithTimeout(ctx, s.loginTimeout)
	defer cancel()

	cookies, err := s.login.Login(loginCtx, platform, creds)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !isLoginError(err) {
			return nil, &browser.LoginError{
				Kind:       browser.FailureTimeout,
				PlatformID: platform.ID,
				Detail:     "login exceeded coordinator timeout",
				Err:        err,
			}
		}
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, &browser.LoginError{
			Kind:       browser.FailureUnknown,
			PlatformID: platform.ID,
			Detail:     "login produced no cookies",
		}
	}

	// Only complete cookie sets reach the cache
	s.cache.Put(platform.ID, key, cookies)

	return &interfaces.AuthResult{
		PlatformID: platform.ID,
		Key:        key,
		Cookies:    cookies,
		FromCache:  false,
	}, nil
}

// emit writes one audit event for a coordinator outcome. Details never
// include credential or cookie values.
func (s *Service) emit(ctx context.Context, action models.AuditAction, platformID, key string, success bool, details map[string]string) {
	if s.audit == nil {
		return
	}
	event := &models.AuditEvent{
		Action:       action,
		ResourceType: models.ResourceSession,
		ResourceID:   slotKey(platformID, key),
		Success:      success,
		Details:      details,
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("action", string(action)).Msg("Failed to write audit event")
	}
}

func isLoginError(err error) bool {
	var le *browser.LoginError
	return errors.As(err, &le)
}

// failureReason maps an error to the audit reason code
func failureReason(err error) string {
	var le *browser.LoginError
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	var ce *CredentialError
	if errors.As(err, &ce) {
		return "credential_error"
	}
	switch {
	case errors.Is(err, ErrPlatformNotFound):
		return "platform_not_found"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "unknown_error"
}
