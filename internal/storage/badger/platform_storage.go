package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PlatformStorage implements the PlatformStorage interface for Badger.
// Accounts are stored as separate records keyed by "platformID/key" so a
// single account lookup never deserializes the whole platform.
type PlatformStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPlatformStorage creates a new PlatformStorage instance
func NewPlatformStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PlatformStorage {
	return &PlatformStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PlatformStorage) SavePlatform(ctx context.Context, platform *models.Platform) error {
	if platform.ID == "" {
		return fmt.Errorf("platform ID is required")
	}

	now := time.Now()
	if platform.CreatedAt.IsZero() {
		platform.CreatedAt = now
	}
	platform.UpdatedAt = now

	if err := s.db.Store().Upsert(platform.ID, platform); err != nil {
		return fmt.Errorf("failed to store platform: %w", err)
	}
	return nil
}

func (s *PlatformStorage) GetPlatform(ctx context.Context, id string) (*models.Platform, error) {
	var platform models.Platform
	if err := s.db.Store().Get(id, &platform); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("platform %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get platform: %w", err)
	}
	return &platform, nil
}

func (s *PlatformStorage) ListPlatforms(ctx context.Context) ([]*models.Platform, error) {
	var platforms []models.Platform
	if err := s.db.Store().Find(&platforms, nil); err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}

	result := make([]*models.Platform, len(platforms))
	for i := range platforms {
		result[i] = &platforms[i]
	}
	return result, nil
}

func (s *PlatformStorage) DeletePlatform(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Platform{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete platform: %w", err)
	}

	// Accounts for a deleted platform are unreachable, remove them too
	if err := s.DeleteAccountsByPlatform(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("platform_id", id).Msg("Failed to delete accounts for deleted platform")
	}
	return nil
}

func (s *PlatformStorage) CountPlatforms(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Platform{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count platforms: %w", err)
	}
	return int(count), nil
}

// accountKey builds the composite record key for an account
func accountKey(platformID, key string) string {
	return platformID + "/" + key
}

func (s *PlatformStorage) SaveAccount(ctx context.Context, account *models.Account) error {
	if account.PlatformID == "" || account.Key == "" {
		return fmt.Errorf("account platform ID and key are required")
	}

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	if err := s.db.Store().Upsert(accountKey(account.PlatformID, account.Key), account); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	return nil
}

func (s *PlatformStorage) GetAccount(ctx context.Context, platformID, key string) (*models.Account, error) {
	var account models.Account
	if err := s.db.Store().Get(accountKey(platformID, key), &account); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("account %s/%s: %w", platformID, key, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *PlatformStorage) ListAccounts(ctx context.Context, platformID string) ([]*models.Account, error) {
	var accounts []models.Account
	if err := s.db.Store().Find(&accounts, badgerhold.Where("PlatformID").Eq(platformID)); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	result := make([]*models.Account, len(accounts))
	for i := range accounts {
		result[i] = &accounts[i]
	}
	return result, nil
}

func (s *PlatformStorage) DeleteAccount(ctx context.Context, platformID, key string) error {
	if err := s.db.Store().Delete(accountKey(platformID, key), &models.Account{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (s *PlatformStorage) DeleteAccountsByPlatform(ctx context.Context, platformID string) error {
	if err := s.db.Store().DeleteMatching(&models.Account{}, badgerhold.Where("PlatformID").Eq(platformID)); err != nil {
		return fmt.Errorf("failed to delete accounts for platform %s: %w", platformID, err)
	}
	return nil
}
