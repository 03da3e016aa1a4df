package models

import (
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
)

// Cookie represents a session cookie harvested from a login
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// ToHTTPCookie converts to a standard HTTP cookie
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	cookie := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}

	if c.Expires > 0 {
		cookie.Expires = time.Unix(c.Expires, 0)
	}

	switch c.SameSite {
	case "Strict", "strict":
		cookie.SameSite = http.SameSiteStrictMode
	case "Lax", "lax":
		cookie.SameSite = http.SameSiteLaxMode
	case "None", "none":
		cookie.SameSite = http.SameSiteNoneMode
	default:
		cookie.SameSite = http.SameSiteDefaultMode
	}

	return cookie
}

// FromNetworkCookie builds a Cookie from a DevTools protocol cookie
func FromNetworkCookie(nc *network.Cookie) Cookie {
	c := Cookie{
		Name:     nc.Name,
		Value:    nc.Value,
		Domain:   nc.Domain,
		Path:     nc.Path,
		HTTPOnly: nc.HTTPOnly,
		Secure:   nc.Secure,
	}

	if nc.Expires > 0 {
		c.Expires = int64(nc.Expires)
	}

	switch nc.SameSite {
	case network.CookieSameSiteStrict:
		c.SameSite = "Strict"
	case network.CookieSameSiteLax:
		c.SameSite = "Lax"
	case network.CookieSameSiteNone:
		c.SameSite = "None"
	}

	return c
}

// SessionEntry is one cached cookie set with its bookkeeping metadata
type SessionEntry struct {
	Cookies         []Cookie  `json:"cookies"`
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	ValidationCount int       `json:"validation_count"`
}

// EntryStats summarizes one cache entry without its cookie values
type EntryStats struct {
	Key             string    `json:"key"`
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	ValidationCount int       `json:"validation_count"`
}

// PlatformStats summarizes the cached entries for one platform
type PlatformStats struct {
	Count   int          `json:"count"`
	Entries []EntryStats `json:"entries"`
}

// CacheStats is a point-in-time snapshot of the cookie cache
type CacheStats struct {
	TotalEntries int                      `json:"total_entries"`
	Platforms    map[string]PlatformStats `json:"platforms"`
}
