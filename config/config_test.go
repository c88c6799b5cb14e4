package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

var envKeys = []string{
	"HESTO_SERVER_PORT",
	"HESTO_SERVER_ENVIRONMENT",
	"HESTO_STORE_TYPE",
	"HESTO_STORE_PATH",
	"HESTO_DETECTION_REQUIRE_LOGIN",
	"HESTO_EXTRACTION_STRATEGIES",
	"HESTO_OVERLAY_DIM_AMOUNT",
	"HESTO_POPUP_COUNTDOWN_SECONDS",
	"HESTO_POPUP_INVESTED_SEED",
	"HESTO_IDENTITY_API_KEY",
	"HESTO_IDENTITY_PROJECT_ID",
	"HESTO_RATELIMIT_PER_IP",
}

func TestLoad(t *testing.T) {
	cleanupEnv := func() {
		for _, k := range envKeys {
			os.Unsetenv(k)
		}
	}

	t.Run("loads with defaults when no env vars set", func(t *testing.T) {
		cleanupEnv()
		defer cleanupEnv()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if cfg.Server.Port != "8080" {
			t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
		}
		if cfg.Store.Type != "memory" {
			t.Errorf("Store.Type = %s, want memory", cfg.Store.Type)
		}
		if !cfg.Detection.RequireLogin {
			t.Error("Detection.RequireLogin = false, want true")
		}
		if !reflect.DeepEqual(cfg.Extraction.Strategies, []string{"site", "jsonld"}) {
			t.Errorf("Extraction.Strategies = %v, want [site jsonld]", cfg.Extraction.Strategies)
		}
		if cfg.Overlay.ID != "dim-overlay" || cfg.Overlay.DimAmount != 0.8 {
			t.Errorf("Overlay = %+v, want dim-overlay at 0.8", cfg.Overlay)
		}
		if cfg.Popup.GrowthRate != 0.105 || cfg.Popup.GrowthYears != 15 {
			t.Errorf("Popup growth = %v over %d years, want 0.105 over 15", cfg.Popup.GrowthRate, cfg.Popup.GrowthYears)
		}
		if cfg.Popup.Tick != time.Second {
			t.Errorf("Popup.Tick = %v, want 1s", cfg.Popup.Tick)
		}
		if cfg.Identity.Enabled() {
			t.Error("Identity should be disabled without an API key")
		}
		if cfg.Identity.Timeout != 15*time.Second {
			t.Errorf("Identity.Timeout = %v, want 15s", cfg.Identity.Timeout)
		}
		if cfg.Identity.ProfileCacheTTL != 5*time.Minute {
			t.Errorf("Identity.ProfileCacheTTL = %v, want 5m", cfg.Identity.ProfileCacheTTL)
		}
		if cfg.RateLimit.PerIP != 600 {
			t.Errorf("RateLimit.PerIP = %d, want 600", cfg.RateLimit.PerIP)
		}
	})

	t.Run("loads custom values from environment variables", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("HESTO_SERVER_PORT", "9090")
		os.Setenv("HESTO_STORE_TYPE", "file")
		os.Setenv("HESTO_STORE_PATH", "/tmp/hesto.json")
		os.Setenv("HESTO_DETECTION_REQUIRE_LOGIN", "false")
		os.Setenv("HESTO_EXTRACTION_STRATEGIES", "jsonld,site")
		os.Setenv("HESTO_POPUP_COUNTDOWN_SECONDS", "3")
		os.Setenv("HESTO_IDENTITY_API_KEY", "key")
		os.Setenv("HESTO_IDENTITY_PROJECT_ID", "hesto-prod")
		defer cleanupEnv()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if cfg.Server.Port != "9090" {
			t.Errorf("Server.Port = %s, want 9090", cfg.Server.Port)
		}
		if cfg.Store.Type != "file" || cfg.Store.Path != "/tmp/hesto.json" {
			t.Errorf("Store = %+v, want file at /tmp/hesto.json", cfg.Store)
		}
		if cfg.Detection.RequireLogin {
			t.Error("Detection.RequireLogin = true, want false")
		}
		if !reflect.DeepEqual(cfg.Extraction.Strategies, []string{"jsonld", "site"}) {
			t.Errorf("Extraction.Strategies = %v, want [jsonld site]", cfg.Extraction.Strategies)
		}
		if cfg.Popup.CountdownSeconds != 3 {
			t.Errorf("Popup.CountdownSeconds = %d, want 3", cfg.Popup.CountdownSeconds)
		}
		if !cfg.Identity.Enabled() || cfg.Identity.ProjectID != "hesto-prod" {
			t.Errorf("Identity = %+v, want enabled for hesto-prod", cfg.Identity)
		}
	})

	t.Run("fails validation for invalid store type", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("HESTO_STORE_TYPE", "redis")
		defer cleanupEnv()

		if _, err := Load(); err == nil {
			t.Error("Load() error = nil, want error for invalid store type")
		}
	})

	t.Run("fails validation when identity project is missing", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("HESTO_IDENTITY_API_KEY", "key")
		defer cleanupEnv()

		_, err := Load()
		want := "invalid configuration: identity project_id is required when an API key is set (set HESTO_IDENTITY_PROJECT_ID)"
		if err == nil || err.Error() != want {
			t.Errorf("Load() error = %v, want %q", err, want)
		}
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("returns nil when .env file doesn't exist", func(t *testing.T) {
		originalDir, _ := os.Getwd()
		defer os.Chdir(originalDir)
		os.Chdir(t.TempDir())

		if err := loadEnvFile(); err != nil {
			t.Errorf("loadEnvFile() error = %v, want nil when file doesn't exist", err)
		}
	})

	t.Run("loads variables and skips comments", func(t *testing.T) {
		originalDir, _ := os.Getwd()
		defer os.Chdir(originalDir)
		os.Chdir(t.TempDir())

		envContent := `
# Comment line
TEST_VAR_1=value1
   # indented comment

TEST_VAR_2="quoted value"
# TEST_COMMENTED=should_not_load
`
		if err := os.WriteFile(".env", []byte(envContent), 0644); err != nil {
			t.Fatalf("Failed to create test .env file: %v", err)
		}
		os.Unsetenv("TEST_VAR_1")
		os.Unsetenv("TEST_VAR_2")
		os.Unsetenv("TEST_COMMENTED")
		defer func() {
			os.Unsetenv("TEST_VAR_1")
			os.Unsetenv("TEST_VAR_2")
		}()

		if err := loadEnvFile(); err != nil {
			t.Fatalf("loadEnvFile() error = %v, want nil", err)
		}

		if os.Getenv("TEST_VAR_1") != "value1" {
			t.Errorf("TEST_VAR_1 = %s, want value1", os.Getenv("TEST_VAR_1"))
		}
		if os.Getenv("TEST_VAR_2") != "quoted value" {
			t.Errorf("TEST_VAR_2 = %s, want quoted value", os.Getenv("TEST_VAR_2"))
		}
		if os.Getenv("TEST_COMMENTED") != "" {
			t.Errorf("TEST_COMMENTED should not be loaded from comment")
		}
	})

	t.Run("doesn't override existing environment variables", func(t *testing.T) {
		originalDir, _ := os.Getwd()
		defer os.Chdir(originalDir)
		os.Chdir(t.TempDir())

		os.Setenv("TEST_OVERRIDE", "existing-value")
		defer os.Unsetenv("TEST_OVERRIDE")

		if err := os.WriteFile(".env", []byte("TEST_OVERRIDE=new-value"), 0644); err != nil {
			t.Fatalf("Failed to create test .env file: %v", err)
		}
		if err := loadEnvFile(); err != nil {
			t.Fatalf("loadEnvFile() error = %v, want nil", err)
		}

		if os.Getenv("TEST_OVERRIDE") != "existing-value" {
			t.Errorf("TEST_OVERRIDE = %s, want existing-value (should not override)", os.Getenv("TEST_OVERRIDE"))
		}
	})
}

func validConfig() *Config {
	return &Config{
		Store:      StoreConfig{Type: "memory"},
		Extraction: ExtractionConfig{Strategies: []string{"site"}},
		Overlay:    OverlayConfig{ID: "dim-overlay", DimAmount: 0.8},
		Popup:      PopupConfig{GrowthYears: 15, InvestedSeed: "2571.92"},
		RateLimit:  RateLimitConfig{PerIP: 100},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "file store with path", mutate: func(c *Config) { c.Store = StoreConfig{Type: "file", Path: "s.json"} }},
		{name: "file store without path", mutate: func(c *Config) { c.Store = StoreConfig{Type: "file"} }, wantErr: true},
		{name: "unknown strategy", mutate: func(c *Config) { c.Extraction.Strategies = []string{"nearby"} }, wantErr: true},
		{name: "dim amount out of range", mutate: func(c *Config) { c.Overlay.DimAmount = 1.5 }, wantErr: true},
		{name: "zero growth years", mutate: func(c *Config) { c.Popup.GrowthYears = 0 }, wantErr: true},
		{name: "non numeric seed", mutate: func(c *Config) { c.Popup.InvestedSeed = "lots" }, wantErr: true},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.PerIP = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
