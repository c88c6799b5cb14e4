package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/hesto/backend/internal/logging"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Messaging  MessagingConfig
	Detection  DetectionConfig
	Extraction ExtractionConfig
	Overlay    OverlayConfig
	Popup      PopupConfig
	Identity   IdentityConfig
	RateLimit  RateLimitConfig
	Logging    logging.Config
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig selects where the shared extension state lives
type StoreConfig struct {
	Type string `mapstructure:"type"` // "memory" or "file"
	Path string `mapstructure:"path"`
}

// MessagingConfig sizes the per-context event loops
type MessagingConfig struct {
	InboxSize int `mapstructure:"inbox_size"`
}

// DetectionConfig holds the purchase-intent switches
type DetectionConfig struct {
	RequireLogin bool `mapstructure:"require_login"`
}

// ExtractionConfig orders the product extraction strategies
type ExtractionConfig struct {
	Strategies []string `mapstructure:"strategies"`
}

// OverlayConfig describes the page-dimming element
type OverlayConfig struct {
	ID        string  `mapstructure:"id"`
	DimAmount float64 `mapstructure:"dim_amount"`
}

// PopupConfig drives the popup numbers and redirect
type PopupConfig struct {
	GrowthRate       float64       `mapstructure:"growth_rate"`
	GrowthYears      int           `mapstructure:"growth_years"`
	InvestedSeed     string        `mapstructure:"invested_seed"`
	CountdownSeconds int           `mapstructure:"countdown_seconds"`
	Tick             time.Duration `mapstructure:"tick"`
	RedirectURL      string        `mapstructure:"redirect_url"`
}

// IdentityConfig holds the hosted identity provider settings. An empty API
// key disables sign-in.
type IdentityConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	AuthURL           string        `mapstructure:"auth_url"`
	DatabaseURL       string        `mapstructure:"database_url"`
	ProjectID         string        `mapstructure:"project_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ProfileCacheTTL   time.Duration `mapstructure:"profile_cache_ttl"`
}

// Enabled reports whether sign-in can be offered
func (c IdentityConfig) Enabled() bool {
	return c.APIKey != ""
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute
	Burst int `mapstructure:"burst"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hesto/")

	v.SetEnvPrefix("HESTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*"})

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.path", "hesto-state.json")

	v.SetDefault("messaging.inbox_size", 64)

	v.SetDefault("detection.require_login", true)
	v.SetDefault("extraction.strategies", []string{"site", "jsonld"})

	v.SetDefault("overlay.id", "dim-overlay")
	v.SetDefault("overlay.dim_amount", 0.8)

	v.SetDefault("popup.growth_rate", 0.105)
	v.SetDefault("popup.growth_years", 15)
	v.SetDefault("popup.invested_seed", "2571.92")
	v.SetDefault("popup.countdown_seconds", 10)
	v.SetDefault("popup.tick", "1s")
	v.SetDefault("popup.redirect_url", "https://hesto.io")

	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.auth_url", "https://identitytoolkit.googleapis.com")
	v.SetDefault("identity.database_url", "https://firestore.googleapis.com")
	v.SetDefault("identity.project_id", "")
	v.SetDefault("identity.requests_per_second", 5)
	v.SetDefault("identity.burst", 10)
	v.SetDefault("identity.timeout", "15s")
	v.SetDefault("identity.profile_cache_ttl", "5m")

	v.SetDefault("ratelimit.per_ip", 600)
	v.SetDefault("ratelimit.burst", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.report_caller", false)
}

var knownStrategies = map[string]bool{"site": true, "jsonld": true}

// validate validates the configuration
func validate(config *Config) error {
	if config.Store.Type != "memory" && config.Store.Type != "file" {
		return fmt.Errorf("store type must be 'memory' or 'file', got: %s", config.Store.Type)
	}
	if config.Store.Type == "file" && config.Store.Path == "" {
		return fmt.Errorf("store path is required when store type is 'file'")
	}

	for _, s := range config.Extraction.Strategies {
		if !knownStrategies[s] {
			return fmt.Errorf("unknown extraction strategy: %s", s)
		}
	}

	if config.Overlay.DimAmount <= 0 || config.Overlay.DimAmount > 1 {
		return fmt.Errorf("overlay dim_amount must be in (0, 1], got: %g", config.Overlay.DimAmount)
	}

	if config.Popup.GrowthYears <= 0 {
		return fmt.Errorf("popup growth_years must be positive, got: %d", config.Popup.GrowthYears)
	}
	if _, err := decimal.NewFromString(config.Popup.InvestedSeed); err != nil {
		return fmt.Errorf("popup invested_seed is not a number: %q", config.Popup.InvestedSeed)
	}

	if config.Identity.Enabled() && config.Identity.ProjectID == "" {
		return fmt.Errorf("identity project_id is required when an API key is set (set HESTO_IDENTITY_PROJECT_ID)")
	}

	if config.RateLimit.PerIP <= 0 {
		return fmt.Errorf("ratelimit per_ip must be positive, got: %d", config.RateLimit.PerIP)
	}

	return nil
}

// loadEnvFile exports KEY=VALUE pairs from ./.env without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
