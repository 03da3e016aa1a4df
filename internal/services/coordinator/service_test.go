package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
	"github.com/ternarybob/authrelay/internal/services/browser"
	"github.com/ternarybob/authrelay/internal/services/cache"
)

// fakeStorage serves platforms and accounts from maps
type fakeStorage struct {
	platforms map[string]*models.Platform
	accounts  map[string]*models.Account
	getErr    error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		platforms: make(map[string]*models.Platform),
		accounts:  make(map[string]*models.Account),
	}
}

func (f *fakeStorage) SavePlatform(ctx context.Context, p *models.Platform) error {
	f.platforms[p.ID] = p
	return nil
}

func (f *fakeStorage) GetPlatform(ctx context.Context, id string) (*models.Platform, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.platforms[id]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", id, interfaces.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStorage) ListPlatforms(ctx context.Context) ([]*models.Platform, error) { return nil, nil }
func (f *fakeStorage) DeletePlatform(ctx context.Context, id string) error          { return nil }
func (f *fakeStorage) CountPlatforms(ctx context.Context) (int, error)              { return 0, nil }

func (f *fakeStorage) SaveAccount(ctx context.Context, a *models.Account) error {
	f.accounts[a.PlatformID+"/"+a.Key] = a
	return nil
}

func (f *fakeStorage) GetAccount(ctx context.Context, platformID, key string) (*models.Account, error) {
	a, ok := f.accounts[platformID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("account %s/%s: %w", platformID, key, interfaces.ErrNotFound)
	}
	return a, nil
}

func (f *fakeStorage) ListAccounts(ctx context.Context, platformID string) ([]*models.Account, error) {
	return nil, nil
}
func (f *fakeStorage) DeleteAccount(ctx context.Context, platformID, key string) error { return nil }
func (f *fakeStorage) DeleteAccountsByPlatform(ctx context.Context, platformID string) error {
	return nil
}

// fakeSecrets treats ciphertext as the plaintext bytes
type fakeSecrets struct {
	decryptErr error
}

func (f *fakeSecrets) Encrypt(plaintext string) ([]byte, error) { return []byte(plaintext), nil }

func (f *fakeSecrets) Decrypt(ciphertext []byte) (string, error) {
	if f.decryptErr != nil {
		return "", f.decryptErr
	}
	return string(ciphertext), nil
}

// fakeValidator returns a fixed result
type fakeValidator struct {
	result interfaces.ValidationResult
	calls  atomic.Int64
}

func (f *fakeValidator) Validate(ctx context.Context, platform *models.Platform, cookies []models.Cookie) interfaces.ValidationResult {
	f.calls.Add(1)
	return f.result
}

// fakeLogin counts invocations and optionally blocks until released
type fakeLogin struct {
	calls   atomic.Int64
	cookies []models.Cookie
	err     error
	started chan struct{} // closed on first call when set
	release chan struct{} // call blocks until closed when set

	mu sync.Mutex
}

func (f *fakeLogin) Login(ctx context.Context, platform *models.Platform, creds models.Credentials) ([]models.Cookie, error) {
	n := f.calls.Add(1)
	if f.started != nil && n == 1 {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.cookies, nil
}

func (f *fakeLogin) setOutcome(cookies []models.Cookie, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = cookies
	f.err = err
}

func sessionCookies() []models.Cookie {
	return []models.Cookie{{Name: "session", Value: "abc123", Domain: "sso-a.example.com", Path: "/"}}
}

type fixture struct {
	svc       *Service
	storage   *fakeStorage
	secrets   *fakeSecrets
	cache     *cache.Service
	validator *fakeValidator
	login     *fakeLogin
}

func newFixture(t *testing.T, loginTimeout time.Duration) *fixture {
	t.Helper()

	storage := newFakeStorage()
	storage.platforms["sso_a"] = &models.Platform{
		ID:       "sso_a",
		Name:     "SSO A",
		LoginURL: "https://sso-a.example.com/login",
	}
	storage.accounts["sso_a/user1"] = &models.Account{
		PlatformID:        "sso_a",
		Key:               "user1",
		Username:          "user1@example.com",
		EncryptedPassword: []byte("hunter2"),
	}

	secrets := &fakeSecrets{}
	cookieCache := cache.NewService(arbor.NewLogger())
	validator := &fakeValidator{result: interfaces.SessionValid}
	login := &fakeLogin{cookies: sessionCookies()}

	svc := NewService(storage, secrets, cookieCache, validator, login, nil, loginTimeout, arbor.NewLogger())
	return &fixture{
		svc:       svc,
		storage:   storage,
		secrets:   secrets,
		cache:     cookieCache,
		validator: validator,
		login:     login,
	}
}

func TestFirstRequestLogsIn(t *testing.T) {
	f := newFixture(t, time.Minute)

	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, "sso_a", result.PlatformID)
	assert.Equal(t, "user1", result.Key)
	assert.Equal(t, sessionCookies(), result.Cookies)
	assert.EqualValues(t, 1, f.login.calls.Load())
}

func TestSecondRequestServedFromCache(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)

	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.Equal(t, sessionCookies(), result.Cookies)
	assert.EqualValues(t, 1, f.login.calls.Load(), "cache hit must not trigger a login")
	assert.EqualValues(t, 0, f.validator.calls.Load(), "no validation rule configured")
}

func TestConcurrentRequestsShareOneLogin(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.login.started = make(chan struct{})
	f.login.release = make(chan struct{})

	const n = 8
	results := make([]*interfaces.AuthResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.GetCookies(context.Background(), "sso_a", "user1")
	}()

	// Let the first caller claim the flight before the rest arrive
	<-f.login.started

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.GetCookies(context.Background(), "sso_a", "user1")
		}(i)
	}

	// Give the joiners time to park on the slot, then finish the login
	time.Sleep(50 * time.Millisecond)
	close(f.login.release)
	wg.Wait()

	assert.EqualValues(t, 1, f.login.calls.Load(), "concurrent requests must collapse onto one login")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "request %d", i)
		assert.Equal(t, sessionCookies(), results[i].Cookies, "request %d", i)
	}
}

func TestInvalidSessionEvictsAndReauthenticatesOnce(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.storage.platforms["sso_a"].Validation = &models.ValidationRule{
		URL: "https://sso-a.example.com/me",
		InvalidIndicator: models.IndicatorRule{
			Type:  models.IndicatorURLContains,
			Value: "/login",
		},
	}

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.login.calls.Load())

	f.validator.result = interfaces.SessionInvalid
	f.login.setOutcome([]models.Cookie{{Name: "session", Value: "fresh"}}, nil)

	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.False(t, result.FromCache, "evicted entry must be replaced by a fresh login")
	assert.Equal(t, "fresh", result.Cookies[0].Value)
	assert.EqualValues(t, 2, f.login.calls.Load(), "exactly one new login after eviction")
}

func TestValidSessionIncrementsValidationCount(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.storage.platforms["sso_a"].Validation = &models.ValidationRule{
		URL:              "https://sso-a.example.com/me",
		InvalidIndicator: models.IndicatorRule{Type: models.IndicatorStatusCode, Value: "401"},
	}

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
		require.NoError(t, err)
		assert.True(t, result.FromCache)
		assert.False(t, result.Degraded)
	}

	entry, ok := f.cache.Get("sso_a", "user1")
	require.True(t, ok)
	assert.Equal(t, 3, entry.ValidationCount)
	assert.EqualValues(t, 1, f.login.calls.Load())
}

func TestUnavailableValidationServesDegraded(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.storage.platforms["sso_a"].Validation = &models.ValidationRule{
		URL:              "https://sso-a.example.com/me",
		InvalidIndicator: models.IndicatorRule{Type: models.IndicatorStatusCode, Value: "401"},
	}

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)

	f.validator.result = interfaces.SessionUnknown

	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.True(t, result.Degraded, "probe failure must surface reduced confidence, not an error")
	assert.EqualValues(t, 1, f.login.calls.Load(), "probe failure must not trigger a login")

	// The entry survives; only a proven-invalid session is evicted
	entry, ok := f.cache.Get("sso_a", "user1")
	require.True(t, ok)
	assert.Equal(t, 0, entry.ValidationCount)
}

func TestLoginFailureSharedAndSlotReleased(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.login.started = make(chan struct{})
	f.login.release = make(chan struct{})
	f.login.setOutcome(nil, &browser.LoginError{
		Kind:       browser.FailureRejectedByTarget,
		PlatformID: "sso_a",
		Detail:     "still on login page",
	})

	const n = 4
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.GetCookies(context.Background(), "sso_a", "user1")
	}()
	<-f.login.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.GetCookies(context.Background(), "sso_a", "user1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.login.release)
	wg.Wait()

	assert.EqualValues(t, 1, f.login.calls.Load())
	for i := 0; i < n; i++ {
		var le *browser.LoginError
		require.ErrorAs(t, errs[i], &le, "request %d", i)
		assert.Equal(t, browser.FailureRejectedByTarget, le.Kind)
	}

	// Failure is not cached and the slot is gone; the next request
	// starts a fresh cycle
	_, ok := f.cache.Get("sso_a", "user1")
	assert.False(t, ok)

	f.login.release = nil
	f.login.setOutcome(sessionCookies(), nil)

	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.EqualValues(t, 2, f.login.calls.Load())
}

func TestKeysAreIndependentFlights(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.storage.accounts["sso_a/user2"] = &models.Account{
		PlatformID:        "sso_a",
		Key:               "user2",
		Username:          "user2@example.com",
		EncryptedPassword: []byte("hunter3"),
	}

	var wg sync.WaitGroup
	for _, key := range []string{"user1", "user2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result, err := f.svc.GetCookies(context.Background(), "sso_a", key)
			assert.NoError(t, err)
			assert.Equal(t, key, result.Key)
		}(key)
	}
	wg.Wait()

	assert.EqualValues(t, 2, f.login.calls.Load(), "distinct keys never share a flight")
}

func TestPlatformNotFound(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.GetCookies(context.Background(), "nope", "user1")
	assert.ErrorIs(t, err, ErrPlatformNotFound)
	assert.EqualValues(t, 0, f.login.calls.Load())
}

func TestAccountNotFound(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.EqualValues(t, 0, f.login.calls.Load())
}

func TestDecryptionFailureIsFatalNotRetried(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.secrets.decryptErr = errors.New("cipher: message authentication failed")

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	var ce *CredentialError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sso_a", ce.PlatformID)
	assert.EqualValues(t, 0, f.login.calls.Load(), "decryption failure must not reach the login capability")
}

func TestCoordinatorOwnsLoginTimeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.login.release = make(chan struct{}) // never released; login honors ctx

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	var le *browser.LoginError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, browser.FailureTimeout, le.Kind)

	// Slot released after the timeout
	f.login.release = nil
	result, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}

func TestEmptyCookieSetIsAFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.login.setOutcome([]models.Cookie{}, nil)

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	var le *browser.LoginError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, browser.FailureUnknown, le.Kind)

	_, ok := f.cache.Get("sso_a", "user1")
	assert.False(t, ok, "incomplete results never reach the cache")
}

func TestFailureReasonMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"login timeout", &browser.LoginError{Kind: browser.FailureTimeout}, "timeout"},
		{"locator", &browser.LoginError{Kind: browser.FailureLocatorNotFound}, "locator_not_found"},
		{"indicator", &browser.LoginError{Kind: browser.FailureIndicatorMismatch}, "indicator_mismatch"},
		{"rejected", &browser.LoginError{Kind: browser.FailureRejectedByTarget}, "rejected_by_target"},
		{"credential", &CredentialError{PlatformID: "sso_a", Key: "user1", Err: errors.New("bad key")}, "credential_error"},
		{"platform", fmt.Errorf("%w: nope", ErrPlatformNotFound), "platform_not_found"},
		{"account", fmt.Errorf("%w: sso_a/x", ErrAccountNotFound), "account_not_found"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"other", errors.New("boom"), "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureReason(tt.err))
		})
	}
}

// panicLogin crashes on its first call and succeeds afterwards
type panicLogin struct {
	calls   atomic.Int64
	started chan struct{} // closed when the first call begins, when set
	proceed chan struct{} // first call blocks until closed, when set
}

func (p *panicLogin) Login(ctx context.Context, platform *models.Platform, creds models.Credentials) ([]models.Cookie, error) {
	if p.calls.Add(1) == 1 {
		if p.started != nil {
			close(p.started)
		}
		if p.proceed != nil {
			<-p.proceed
		}
		panic("render process gone")
	}
	return sessionCookies(), nil
}

func TestLoginPanicDoesNotStrandKey(t *testing.T) {
	f := newFixture(t, time.Minute)
	login := &panicLogin{}
	svc := NewService(f.storage, f.secrets, f.cache, f.validator, login, nil, time.Minute, arbor.NewLogger())

	assert.Panics(t, func() {
		_, _ = svc.GetCookies(context.Background(), "sso_a", "user1")
	})

	// The crashed flight must have released its slot; this request has
	// to start a fresh login, not join a dead one
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := svc.GetCookies(ctx, "sso_a", "user1")
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.EqualValues(t, 2, login.calls.Load())
}

func TestLoginPanicResolvesWaitersWithError(t *testing.T) {
	f := newFixture(t, time.Minute)
	login := &panicLogin{started: make(chan struct{}), proceed: make(chan struct{})}
	svc := NewService(f.storage, f.secrets, f.cache, f.validator, login, nil, time.Minute, arbor.NewLogger())

	ownerDone := make(chan struct{})
	go func() {
		defer func() {
			_ = recover()
			close(ownerDone)
		}()
		_, _ = svc.GetCookies(context.Background(), "sso_a", "user1")
	}()
	<-login.started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := svc.GetCookies(context.Background(), "sso_a", "user1")
		waiterErr <- err
	}()

	// Let the waiter park on the in-flight slot, then crash the owner
	time.Sleep(50 * time.Millisecond)
	close(login.proceed)

	select {
	case err := <-waiterErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved after the owner crashed")
	}
	<-ownerDone
}

func TestStorageFailureIsNotPlatformNotFound(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.storage.getErr = errors.New("manifest corrupted")

	_, err := f.svc.GetCookies(context.Background(), "sso_a", "user1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPlatformNotFound)
	assert.EqualValues(t, 0, f.login.calls.Load())
}
