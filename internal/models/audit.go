package models

import "time"

// AuditAction identifies what operation an audit event records
type AuditAction string

const (
	AuditPlatformCreate AuditAction = "platform.create"
	AuditPlatformUpdate AuditAction = "platform.update"
	AuditPlatformDelete AuditAction = "platform.delete"
	AuditAccountCreate  AuditAction = "account.create"
	AuditAccountUpdate  AuditAction = "account.update"
	AuditAccountDelete  AuditAction = "account.delete"

	AuditAuthSuccess  AuditAction = "auth.success"
	AuditAuthFailure  AuditAction = "auth.failure"
	AuditAuthCacheHit AuditAction = "auth.cache_hit"

	AuditCacheClear         AuditAction = "cache.clear"
	AuditCacheClearPlatform AuditAction = "cache.clear_platform"
	AuditCacheClearEntry    AuditAction = "cache.clear_entry"
)

// AuditResource identifies the kind of resource an event touched
type AuditResource string

const (
	ResourcePlatform AuditResource = "platform"
	ResourceAccount  AuditResource = "account"
	ResourceSession  AuditResource = "session"
	ResourceCache    AuditResource = "cache"
)

// AuditEvent is one immutable record of an administrative or
// authentication operation. Details never contain credential values.
type AuditEvent struct {
	ID           string            `json:"id" badgerhold:"key"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       AuditAction       `json:"action"`
	ResourceType AuditResource     `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Role         string            `json:"role"`
	ClientIP     string            `json:"client_ip,omitempty"`
	Success      bool              `json:"success"`
	Details      map[string]string `json:"details,omitempty"`
}

// AuditQuery filters and paginates audit event lookups
type AuditQuery struct {
	Action       AuditAction   `json:"action,omitempty"`
	ResourceType AuditResource `json:"resource_type,omitempty"`
	ResourceID   string        `json:"resource_id,omitempty"`
	Success      *bool         `json:"success,omitempty"`
	Since        time.Time     `json:"since,omitempty"`
	Until        time.Time     `json:"until,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	Offset       int           `json:"offset,omitempty"`
}

// AuditStats aggregates audit events for the admin surface
type AuditStats struct {
	TotalEvents int            `json:"total_events"`
	Successes   int            `json:"successes"`
	Failures    int            `json:"failures"`
	ByAction    map[string]int `json:"by_action"`
	ByResource  map[string]int `json:"by_resource"`
	ByRole      map[string]int `json:"by_role"`
}
