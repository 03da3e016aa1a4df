package models

import "time"

// IndicatorType identifies how an indicator rule is evaluated.
// The set is closed: every consumer switches over all four values and
// rejects anything else at validation time.
type IndicatorType string

const (
	// IndicatorURLContains matches when the page address contains the value
	IndicatorURLContains IndicatorType = "url_contains"
	// IndicatorURLEquals matches when the page address equals the value exactly
	IndicatorURLEquals IndicatorType = "url_equals"
	// IndicatorElementPresent matches when a CSS selector finds at least one element
	IndicatorElementPresent IndicatorType = "element_present"
	// IndicatorStatusCode matches when the response status code equals the value
	IndicatorStatusCode IndicatorType = "status_code"
)

// ValidIndicatorTypes lists every recognized indicator type
var ValidIndicatorTypes = []IndicatorType{
	IndicatorURLContains,
	IndicatorURLEquals,
	IndicatorElementPresent,
	IndicatorStatusCode,
}

// IsValid reports whether t is a recognized indicator type
func (t IndicatorType) IsValid() bool {
	switch t {
	case IndicatorURLContains, IndicatorURLEquals, IndicatorElementPresent, IndicatorStatusCode:
		return true
	}
	return false
}

// IndicatorRule pairs an indicator type with its comparison value
type IndicatorRule struct {
	Type  IndicatorType `json:"type" validate:"required,oneof=url_contains url_equals element_present status_code"`
	Value string        `json:"value" validate:"required"`
}

// ValidationRule describes how to probe an existing session for liveness.
// Optional per platform; platforms without one trust cached cookies as-is.
type ValidationRule struct {
	URL              string        `json:"url" validate:"required,url"`
	InvalidIndicator IndicatorRule `json:"invalid_indicator" validate:"required"`
}

// Platform describes a login target: where the login form lives, how to
// fill it, and how to recognize success
type Platform struct {
	ID               string          `json:"id" badgerhold:"key"`
	Name             string          `json:"name" validate:"required"`
	LoginURL         string          `json:"login_url" validate:"required,url"`
	UsernameSelector string          `json:"username_selector" validate:"required"`
	PasswordSelector string          `json:"password_selector" validate:"required"`
	SubmitSelector   string          `json:"submit_selector" validate:"required"`
	SuccessIndicator IndicatorRule   `json:"success_indicator" validate:"required"`
	Validation       *ValidationRule `json:"validation,omitempty"`
	// SettleDelay is how long to wait after the success indicator fires
	// before harvesting cookies. Identity providers often set session
	// cookies via post-login redirects.
	SettleDelay time.Duration `json:"settle_delay"`
	// LoginInterval overrides the service-wide pacing between login
	// attempts for this platform. Zero means the default applies.
	LoginInterval time.Duration `json:"login_interval"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Account holds one set of login credentials for a platform.
// The password is stored encrypted and never serialized in API responses.
type Account struct {
	PlatformID        string    `json:"platform_id" validate:"required"`
	Key               string    `json:"key" validate:"required"`
	Username          string    `json:"username" validate:"required"`
	EncryptedPassword []byte    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Credentials is the transient decrypted form of an account's login data.
// Instances live only for the duration of a login attempt and must never
// be logged or stored.
type Credentials struct {
	Username string
	Password string
}
