package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/common"
	"github.com/ternarybob/authrelay/internal/handlers"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/services/browser"
	"github.com/ternarybob/authrelay/internal/services/cache"
	"github.com/ternarybob/authrelay/internal/services/coordinator"
	"github.com/ternarybob/authrelay/internal/services/scheduler"
	"github.com/ternarybob/authrelay/internal/services/secrets"
	"github.com/ternarybob/authrelay/internal/services/validator"
	badgerstore "github.com/ternarybob/authrelay/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	SecretsService *secrets.Service
	Cache          interfaces.CookieCache
	Validator      interfaces.SessionValidator
	BrowserPool    *browser.Pool
	LoginService   interfaces.LoginCapability
	Coordinator    interfaces.AuthCoordinator
	Scheduler      *scheduler.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	AuthHandler     *handlers.AuthHandler
	PlatformHandler *handlers.PlatformHandler
	CacheHandler    *handlers.CacheHandler
	AuditHandler    *handlers.AuditHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if cfg.Security.AdminAPIKey == "" && cfg.Security.UserAPIKey == "" {
		logger.Warn().Msg("No API keys configured, all requests run as admin")
	}

	logger.Info().
		Int("browser_pool_size", cfg.Browser.PoolSize).
		Str("login_timeout", cfg.Auth.LoginTimeout.String()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	var err error

	a.SecretsService, err = secrets.NewService(&a.Config.Encryption, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets service: %w", err)
	}
	a.Logger.Debug().Msg("Secrets service initialized")

	a.Cache = cache.NewService(a.Logger)
	a.Logger.Debug().Msg("Cookie cache initialized")

	a.Validator = validator.NewService(a.Config.Auth.ValidationTimeout, a.Config.Browser.UserAgent, a.Logger)
	a.Logger.Debug().Msg("Session validator initialized")

	// The browser pool is created here but launched from main, after
	// config validation, so a broken Chrome install fails fast
	a.BrowserPool = browser.NewPool(a.Logger)
	a.LoginService = browser.NewService(a.BrowserPool, a.Config.Auth.LoginInterval, a.Logger)
	a.Logger.Debug().Msg("Browser login service initialized")

	a.Coordinator = coordinator.NewService(
		a.StorageManager.PlatformStorage(),
		a.SecretsService,
		a.Cache,
		a.Validator,
		a.LoginService,
		a.StorageManager.AuditStorage(),
		a.Config.Auth.LoginTimeout,
		a.Logger,
	)
	a.Logger.Debug().Msg("Auth coordinator initialized")

	a.Scheduler = scheduler.NewService(
		a.Config.Auth.RevalidateSchedule,
		a.Cache,
		a.Validator,
		a.StorageManager.PlatformStorage(),
		a.Logger,
	)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.AuthHandler = handlers.NewAuthHandler(a.Coordinator, a.Logger)
	a.PlatformHandler = handlers.NewPlatformHandler(
		a.StorageManager.PlatformStorage(),
		a.SecretsService,
		a.Cache,
		a.StorageManager.AuditStorage(),
		a.Config.AllowTestURLs(),
		a.Logger,
	)
	a.CacheHandler = handlers.NewCacheHandler(a.Cache, a.StorageManager.AuditStorage(), a.Logger)
	a.AuditHandler = handlers.NewAuditHandler(a.StorageManager.AuditStorage(), a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.BrowserPool != nil && a.BrowserPool.IsInitialized() {
		if err := a.BrowserPool.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser pool")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
