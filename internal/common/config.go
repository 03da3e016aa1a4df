package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Auth        AuthConfig       `toml:"auth"`
	Browser     BrowserConfig    `toml:"browser"`
	Security    SecurityConfig   `toml:"security"`
	Encryption  EncryptionConfig `toml:"encryption"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// AuthConfig contains configuration for the authentication coordinator
type AuthConfig struct {
	LoginTimeout       time.Duration `toml:"login_timeout"`       // Upper bound for a single login attempt (coordinator-owned)
	ValidationTimeout  time.Duration `toml:"validation_timeout"`  // HTTP timeout for session validation requests
	LoginInterval      time.Duration `toml:"login_interval"`      // Minimum spacing between login attempts per platform
	RevalidateSchedule string        `toml:"revalidate_schedule"` // Cron schedule for background cache revalidation (empty = disabled)
}

// BrowserConfig contains headless browser configuration for login automation
type BrowserConfig struct {
	Headless  bool   `toml:"headless"`   // Run Chrome headless (default: true)
	PoolSize  int    `toml:"pool_size"`  // Number of pooled browser instances
	UserAgent string `toml:"user_agent"` // User agent string for login sessions
}

// SecurityConfig contains API key configuration for the admin surface
type SecurityConfig struct {
	AdminAPIKey string `toml:"admin_api_key"` // Full access: platform/account management, audit logs
	UserAPIKey  string `toml:"user_api_key"`  // Cookie requests and cache reads only
}

// EncryptionConfig controls the credential encryption key source
type EncryptionConfig struct {
	Key        string `toml:"key"`        // Base64-encoded 32-byte key (takes precedence over key_file)
	KeyFile    string `toml:"key_file"`   // Path to key file; auto-generated on first run if absent
	Passphrase string `toml:"passphrase"` // Optional passphrase to derive the key from instead
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in authrelay.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Auth: AuthConfig{
			LoginTimeout:       2 * time.Minute,  // Generous bound for slow identity providers
			ValidationTimeout:  15 * time.Second, // Validation probes should be quick
			LoginInterval:      2 * time.Second,  // Spacing between logins to the same platform
			RevalidateSchedule: "",               // Disabled by default - cache entries live until proven invalid
		},
		Browser: BrowserConfig{
			Headless:  true,
			PoolSize:  2,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Security: SecurityConfig{
			AdminAPIKey: "", // User must provide keys in config file or environment
			UserAPIKey:  "",
		},
		Encryption: EncryptionConfig{
			KeyFile: "./data/encryption.key", // Auto-generated on first run
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: AUTHRELAY_ENV, fallback: GO_ENV)
	if env := os.Getenv("AUTHRELAY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("AUTHRELAY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("AUTHRELAY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("AUTHRELAY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("AUTHRELAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("AUTHRELAY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("AUTHRELAY_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Auth configuration
	if loginTimeout := os.Getenv("AUTHRELAY_AUTH_LOGIN_TIMEOUT"); loginTimeout != "" {
		if lt, err := time.ParseDuration(loginTimeout); err == nil {
			config.Auth.LoginTimeout = lt
		}
	}
	if validationTimeout := os.Getenv("AUTHRELAY_AUTH_VALIDATION_TIMEOUT"); validationTimeout != "" {
		if vt, err := time.ParseDuration(validationTimeout); err == nil {
			config.Auth.ValidationTimeout = vt
		}
	}
	if loginInterval := os.Getenv("AUTHRELAY_AUTH_LOGIN_INTERVAL"); loginInterval != "" {
		if li, err := time.ParseDuration(loginInterval); err == nil {
			config.Auth.LoginInterval = li
		}
	}
	if schedule := os.Getenv("AUTHRELAY_AUTH_REVALIDATE_SCHEDULE"); schedule != "" {
		config.Auth.RevalidateSchedule = schedule
	}

	// Browser configuration
	if headless := os.Getenv("AUTHRELAY_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if poolSize := os.Getenv("AUTHRELAY_BROWSER_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil && ps > 0 {
			config.Browser.PoolSize = ps
		}
	}
	if userAgent := os.Getenv("AUTHRELAY_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}

	// Security configuration
	if adminKey := os.Getenv("AUTHRELAY_ADMIN_API_KEY"); adminKey != "" {
		config.Security.AdminAPIKey = adminKey
	}
	if userKey := os.Getenv("AUTHRELAY_USER_API_KEY"); userKey != "" {
		config.Security.UserAPIKey = userKey
	}

	// Encryption configuration
	if key := os.Getenv("AUTHRELAY_ENCRYPTION_KEY"); key != "" {
		config.Encryption.Key = key
	}
	if keyFile := os.Getenv("AUTHRELAY_ENCRYPTION_KEY_FILE"); keyFile != "" {
		config.Encryption.KeyFile = keyFile
	}
	if passphrase := os.Getenv("AUTHRELAY_ENCRYPTION_PASSPHRASE"); passphrase != "" {
		config.Encryption.Passphrase = passphrase
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ValidateRevalidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval.
// An empty schedule is valid and means background revalidation is disabled.
func ValidateRevalidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}

	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	// Clone the config struct (shallow copy first)
	clone := *c

	// Deep clone slice fields to prevent shared memory
	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	return &clone
}
