package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
)

func validPlatform() *models.Platform {
	return &models.Platform{
		ID:               "sso_a",
		Name:             "SSO A",
		LoginURL:         "https://sso-a.example.com/login",
		UsernameSelector: "#username",
		PasswordSelector: "#password",
		SubmitSelector:   "button[type=submit]",
		SuccessIndicator: models.IndicatorRule{
			Type:  models.IndicatorURLContains,
			Value: "/dashboard",
		},
	}
}

func TestValidatePlatform(t *testing.T) {
	h := NewPlatformHandler(nil, nil, nil, nil, true, arbor.NewLogger())

	require.NoError(t, h.validatePlatform(validPlatform()))

	missing := validPlatform()
	missing.LoginURL = ""
	assert.Error(t, h.validatePlatform(missing))

	badIndicator := validPlatform()
	badIndicator.SuccessIndicator.Type = "regex_match"
	assert.Error(t, h.validatePlatform(badIndicator))

	badValidation := validPlatform()
	badValidation.Validation = &models.ValidationRule{
		URL: "https://sso-a.example.com/me",
		InvalidIndicator: models.IndicatorRule{
			Type:  "no_such_type",
			Value: "/login",
		},
	}
	assert.Error(t, h.validatePlatform(badValidation))
}

func TestValidatePlatformRejectsTestURLsInProduction(t *testing.T) {
	prod := NewPlatformHandler(nil, nil, nil, nil, false, arbor.NewLogger())
	dev := NewPlatformHandler(nil, nil, nil, nil, true, arbor.NewLogger())

	local := validPlatform()
	local.LoginURL = "http://localhost:8080/login"

	assert.Error(t, prod.validatePlatform(local))
	assert.NoError(t, dev.validatePlatform(local))

	loopbackProbe := validPlatform()
	loopbackProbe.Validation = &models.ValidationRule{
		URL: "http://127.0.0.1:9090/me",
		InvalidIndicator: models.IndicatorRule{
			Type:  models.IndicatorStatusCode,
			Value: "401",
		},
	}
	assert.Error(t, prod.validatePlatform(loopbackProbe))
	assert.NoError(t, dev.validatePlatform(loopbackProbe))
}

func TestIsTestURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost/login", true},
		{"http://localhost:8080/login", true},
		{"http://127.0.0.1/login", true},
		{"http://127.1.2.3/login", true},
		{"http://[::1]:443/login", true},
		{"http://0.0.0.0/login", true},
		{"http://app.localhost/login", true},
		{"https://sso.example.com/login", false},
		{"https://127001.example.com/login", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isTestURL(tt.url), tt.url)
	}
}

func TestPlatformRequestSettleDelay(t *testing.T) {
	req := &platformRequest{SettleDelayMS: 500}
	assert.Equal(t, 500*time.Millisecond, req.toModel().SettleDelay)

	req = &platformRequest{}
	assert.Equal(t, 2*time.Second, req.toModel().SettleDelay)
}

func TestWriteLookupError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeLookupError(rec, fmt.Errorf("platform sso_a: %w", interfaces.ErrNotFound), "Provider not found")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	writeLookupError(rec, errors.New("disk failure"), "Provider not found")
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "a storage fault is not a missing record")
}

func TestPlatformRequestLoginInterval(t *testing.T) {
	req := &platformRequest{LoginIntervalMS: 1500}
	assert.Equal(t, 1500*time.Millisecond, req.toModel().LoginInterval)

	req = &platformRequest{}
	assert.Equal(t, time.Duration(0), req.toModel().LoginInterval, "zero means the service default")
}
