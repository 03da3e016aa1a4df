// Package browser performs scripted form logins with headless Chrome
// and harvests the resulting session cookies.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

const (
	// locatorWait bounds how long we wait for a form selector to appear
	// before declaring it missing
	locatorWait = 20 * time.Second
	// indicatorWait bounds how long we poll for the success indicator
	// after submitting the form
	indicatorWait = 30 * time.Second
	// indicatorPollInterval is the delay between indicator checks
	indicatorPollInterval = 500 * time.Millisecond
)

// Service implements the LoginCapability interface with chromedp
type Service struct {
	pool        *Pool
	rateLimiter *RateLimiter
	logger      arbor.ILogger
}

var _ interfaces.LoginCapability = (*Service)(nil)

// NewService creates a new browser login service
func NewService(pool *Pool, loginInterval time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		pool:        pool,
		rateLimiter: NewRateLimiter(loginInterval),
		logger:      logger,
	}
}

// Login performs a single scripted login attempt: navigate to the login
// page, fill the credential form, submit, wait for the success indicator,
// then harvest cookies. One attempt only; retry policy belongs to callers.
//
// The caller's context deadline is the attempt's time bound. Every
// failure is a *LoginError with a structured kind.
func (s *Service) Login(ctx context.Context, platform *models.Platform, creds models.Credentials) ([]models.Cookie, error) {
	if platform.LoginInterval > 0 {
		s.rateLimiter.SetPlatformDelay(platform.ID, platform.LoginInterval)
	}
	if err := s.rateLimiter.Wait(ctx, platform.ID); err != nil {
		return nil, s.failure(platform, FailureTimeout, "cancelled while pacing login attempts", err)
	}

	browserCtx, release, err := s.pool.Acquire()
	if err != nil {
		return nil, s.failure(platform, FailureUnknown, "no browser available", err)
	}
	defer release()

	// Each login runs in its own tab
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	runCtx := tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}
	// Propagate caller cancellation into the browser context
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	// Record the main document status for status_code indicators
	var lastStatus atomic.Int64
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument {
				lastStatus.Store(resp.Response.Status)
			}
		}
	})

	s.logger.Info().
		Str("platform_id", platform.ID).
		Str("login_url", platform.LoginURL).
		Msg("Starting login attempt")

	// Pooled instances are reused across accounts, so start from a
	// clean cookie state
	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.ClearBrowserCookies().Do(ctx)
		}),
		chromedp.Navigate(platform.LoginURL),
	)
	if err != nil {
		return nil, s.classify(ctx, platform, FailureUnknown, "failed to open login page", err)
	}

	// Wait for the credential form
	if err := s.waitForSelector(ctx, runCtx, platform.UsernameSelector); err != nil {
		return nil, s.classify(ctx, platform, FailureLocatorNotFound,
			fmt.Sprintf("username field %q not found", platform.UsernameSelector), err)
	}
	if err := s.waitForSelector(ctx, runCtx, platform.PasswordSelector); err != nil {
		return nil, s.classify(ctx, platform, FailureLocatorNotFound,
			fmt.Sprintf("password field %q not found", platform.PasswordSelector), err)
	}

	// Fill and submit
	err = chromedp.Run(runCtx,
		chromedp.SendKeys(platform.UsernameSelector, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(platform.PasswordSelector, creds.Password, chromedp.ByQuery),
		chromedp.Click(platform.SubmitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return nil, s.classify(ctx, platform, FailureLocatorNotFound, "failed to submit login form", err)
	}

	// Wait for the success indicator
	if err := s.waitForSuccess(ctx, runCtx, platform, &lastStatus); err != nil {
		return nil, err
	}

	// Let post-login redirects finish setting session cookies
	if platform.SettleDelay > 0 {
		if err := chromedp.Run(runCtx, chromedp.Sleep(platform.SettleDelay)); err != nil {
			return nil, s.classify(ctx, platform, FailureUnknown, "interrupted during settle delay", err)
		}
	}

	cookies, err := s.harvestCookies(runCtx)
	if err != nil {
		return nil, s.classify(ctx, platform, FailureUnknown, "failed to extract cookies", err)
	}

	s.logger.Info().
		Str("platform_id", platform.ID).
		Int("cookies", len(cookies)).
		Msg("Login succeeded")

	return cookies, nil
}

// waitForSelector waits for a selector to become visible, bounded by
// locatorWait so a missing element is reported as such rather than
// consuming the whole login budget
func (s *Service) waitForSelector(callerCtx, runCtx context.Context, selector string) error {
	stepCtx, cancel := context.WithTimeout(runCtx, locatorWait)
	defer cancel()
	return chromedp.Run(stepCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// waitForSuccess polls the platform's success indicator until it fires
// or the indicator window closes. When the window closes while the
// browser still sits on the login address, the credentials were refused.
func (s *Service) waitForSuccess(callerCtx, runCtx context.Context, platform *models.Platform, lastStatus *atomic.Int64) error {
	waitCtx, cancel := context.WithTimeout(runCtx, indicatorWait)
	defer cancel()

	var currentURL string
	for {
		matched, err := s.checkIndicator(waitCtx, platform, lastStatus, &currentURL)
		if err != nil {
			if callerCtx.Err() != nil {
				return s.failure(platform, FailureTimeout, "login attempt timed out", callerCtx.Err())
			}
			if waitCtx.Err() != nil {
				break
			}
			return s.failure(platform, FailureUnknown, "failed to evaluate success indicator", err)
		}
		if matched {
			return nil
		}

		select {
		case <-waitCtx.Done():
		case <-time.After(indicatorPollInterval):
			continue
		}
		break
	}

	if callerCtx.Err() != nil {
		return s.failure(platform, FailureTimeout, "login attempt timed out", callerCtx.Err())
	}

	// Still sitting on the login page means the platform bounced us back
	if currentURL == platform.LoginURL || strings.HasPrefix(currentURL, platform.LoginURL) {
		return s.failure(platform, FailureRejectedByTarget,
			"still on the login page after submitting credentials", nil)
	}
	return s.failure(platform, FailureIndicatorMismatch,
		fmt.Sprintf("success indicator %s=%q never matched", platform.SuccessIndicator.Type, platform.SuccessIndicator.Value), nil)
}

// checkIndicator evaluates the success indicator once
func (s *Service) checkIndicator(ctx context.Context, platform *models.Platform, lastStatus *atomic.Int64, currentURL *string) (bool, error) {
	if err := chromedp.Run(ctx, chromedp.Location(currentURL)); err != nil {
		return false, err
	}

	rule := platform.SuccessIndicator
	switch rule.Type {
	case models.IndicatorURLContains:
		return strings.Contains(*currentURL, rule.Value), nil

	case models.IndicatorURLEquals:
		return *currentURL == rule.Value, nil

	case models.IndicatorElementPresent:
		var found bool
		expr := fmt.Sprintf("document.querySelector(%s) !== null", strconv.Quote(rule.Value))
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
			return false, err
		}
		return found, nil

	case models.IndicatorStatusCode:
		code, err := strconv.Atoi(rule.Value)
		if err != nil {
			return false, fmt.Errorf("invalid status code value %q: %w", rule.Value, err)
		}
		return lastStatus.Load() == int64(code), nil

	default:
		return false, fmt.Errorf("unknown indicator type %q", rule.Type)
	}
}

// harvestCookies extracts all cookies from the browser. The cookie jar
// was cleared at the start of the attempt, so everything present belongs
// to this login.
func (s *Service) harvestCookies(runCtx context.Context) ([]models.Cookie, error) {
	var cookies []models.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		netCookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = make([]models.Cookie, 0, len(netCookies))
		for _, nc := range netCookies {
			cookies = append(cookies, models.FromNetworkCookie(nc))
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// classify wraps an error as a LoginError, promoting context expiry to a
// timeout failure regardless of the phase it surfaced in
func (s *Service) classify(callerCtx context.Context, platform *models.Platform, kind FailureKind, detail string, err error) error {
	if callerCtx.Err() != nil {
		return s.failure(platform, FailureTimeout, "login attempt timed out", callerCtx.Err())
	}
	return s.failure(platform, kind, detail, err)
}

func (s *Service) failure(platform *models.Platform, kind FailureKind, detail string, err error) error {
	s.logger.Warn().
		Str("platform_id", platform.ID).
		Str("failure", string(kind)).
		Str("detail", detail).
		Msg("Login attempt failed")
	return &LoginError{
		Kind:       kind,
		PlatformID: platform.ID,
		Detail:     detail,
		Err:        err,
	}
}
