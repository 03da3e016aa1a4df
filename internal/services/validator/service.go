// Package validator probes cached sessions for liveness over plain HTTP.
// A probe fetches the platform's validation URL with the cached cookies
// attached and checks the configured invalid indicator against the
// response.
package validator

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

// Service implements the SessionValidator interface
type Service struct {
	timeout   time.Duration
	userAgent string
	logger    arbor.ILogger
}

var _ interfaces.SessionValidator = (*Service)(nil)

// NewService creates a new session validator
func NewService(timeout time.Duration, userAgent string, logger arbor.ILogger) *Service {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		timeout:   timeout,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Validate probes whether the cookies still represent a live session.
// Platforms without a validation rule are trusted as-is. A failed probe
// (network error, bad response) returns SessionUnknown, never
// SessionInvalid: only a matching invalid indicator condemns a session.
func (s *Service) Validate(ctx context.Context, platform *models.Platform, cookies []models.Cookie) interfaces.ValidationResult {
	if platform.Validation == nil {
		return interfaces.SessionValid
	}

	validateURL, err := url.Parse(platform.Validation.URL)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("platform_id", platform.ID).
			Str("url", platform.Validation.URL).
			Msg("Invalid validation URL")
		return interfaces.SessionUnknown
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return interfaces.SessionUnknown
	}
	httpCookies := make([]*http.Cookie, len(cookies))
	for i := range cookies {
		httpCookies[i] = cookies[i].ToHTTPCookie()
	}
	jar.SetCookies(validateURL, httpCookies)

	client := &http.Client{
		Jar:     jar,
		Timeout: s.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, platform.Validation.URL, nil)
	if err != nil {
		return interfaces.SessionUnknown
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("platform_id", platform.ID).
			Msg("Session validation probe failed")
		return interfaces.SessionUnknown
	}
	defer resp.Body.Close()

	invalid, err := s.matchesIndicator(resp, &platform.Validation.InvalidIndicator)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("platform_id", platform.ID).
			Msg("Could not evaluate invalid indicator")
		return interfaces.SessionUnknown
	}

	if invalid {
		s.logger.Info().
			Str("platform_id", platform.ID).
			Str("indicator", string(platform.Validation.InvalidIndicator.Type)).
			Msg("Cached session is no longer valid")
		return interfaces.SessionInvalid
	}
	return interfaces.SessionValid
}

// matchesIndicator evaluates an indicator rule against the final
// response of the probe. URL rules see the post-redirect address.
func (s *Service) matchesIndicator(resp *http.Response, rule *models.IndicatorRule) (bool, error) {
	switch rule.Type {
	case models.IndicatorStatusCode:
		code, err := strconv.Atoi(rule.Value)
		if err != nil {
			return false, err
		}
		return resp.StatusCode == code, nil

	case models.IndicatorURLContains:
		return strings.Contains(resp.Request.URL.String(), rule.Value), nil

	case models.IndicatorURLEquals:
		return resp.Request.URL.String() == rule.Value, nil

	case models.IndicatorElementPresent:
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return false, err
		}
		return doc.Find(rule.Value).Length() > 0, nil

	default:
		// Unreachable for validated platforms; treat as non-matching
		return false, nil
	}
}
