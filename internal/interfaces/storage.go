package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/authrelay/internal/models"
)

// ErrNotFound - the requested record does not exist. Storage
// implementations wrap this so callers can tell absence apart from an
// I/O failure.
var ErrNotFound = errors.New("not found")

// PlatformStorage - interface for platform and account persistence.
// Account passwords are stored encrypted; nothing below this interface
// ever sees plaintext credentials.
type PlatformStorage interface {
	// Platform operations
	SavePlatform(ctx context.Context, platform *models.Platform) error
	GetPlatform(ctx context.Context, id string) (*models.Platform, error)
	ListPlatforms(ctx context.Context) ([]*models.Platform, error)
	DeletePlatform(ctx context.Context, id string) error
	CountPlatforms(ctx context.Context) (int, error)

	// Account operations
	SaveAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, platformID, key string) (*models.Account, error)
	ListAccounts(ctx context.Context, platformID string) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, platformID, key string) error
	DeleteAccountsByPlatform(ctx context.Context, platformID string) error
}

// AuditStorage - interface for the append-only audit trail
type AuditStorage interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEvent, error)
	Stats(ctx context.Context) (*models.AuditStats, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	PlatformStorage() PlatformStorage
	AuditStorage() AuditStorage
	DB() interface{}
	Close() error
}
