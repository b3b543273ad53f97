package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode = %q, want %q", cfg.Telegram.RunMode, RunModeLongpoll)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Errorf("storage.driver = %q, want %q", cfg.Storage.Driver, StorageMemory)
	}
	if cfg.Menu.ExpirySeconds != DefaultExpirySeconds {
		t.Errorf("menu.expiry_seconds = %d, want %d", cfg.Menu.ExpirySeconds, DefaultExpirySeconds)
	}
	if cfg.Menu.SweepSeconds != DefaultSweepSeconds {
		t.Errorf("menu.sweep_seconds = %d, want %d", cfg.Menu.SweepSeconds, DefaultSweepSeconds)
	}
}

func TestNormalizeRequiresToken(t *testing.T) {
	cfg := &Config{}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNormalizeRunModeAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "Polling"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode = %q, want %q", cfg.Telegram.RunMode, RunModeLongpoll)
	}
}

func TestNormalizeWebhookRequiresEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for webhook mode without url")
	}

	cfg = validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	cfg.Webhook = WebhookConfig{URL: "https://example.org/bot", Listen: "0.0.0.0", Port: 8443}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
}

func TestNormalizeStorageDrivers(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Driver = "sqlite"
	if err := Normalize(cfg); err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Fatalf("expected storage.driver error, got %v", err)
	}

	cfg = validConfig()
	cfg.Storage.Driver = StorageBolt
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for bolt driver without path")
	}
	cfg.Storage.Bolt.Path = "sessions.db"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	cfg = validConfig()
	cfg.Storage.Driver = "Postgres"
	cfg.Storage.Postgres.Host = "localhost"
	cfg.Storage.Postgres.Name = "menus"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Storage.Driver != StoragePostgres {
		t.Errorf("driver = %q, want %q", cfg.Storage.Driver, StoragePostgres)
	}
	if cfg.Storage.Postgres.Port != "5432" || cfg.Storage.Postgres.SSLMode != "disable" {
		t.Errorf("postgres defaults not applied: port=%q sslmode=%q", cfg.Storage.Postgres.Port, cfg.Storage.Postgres.SSLMode)
	}
	if cfg.Storage.Postgres.MaxConnections <= 0 {
		t.Errorf("max_connections = %d, want > 0", cfg.Storage.Postgres.MaxConnections)
	}

	cfg = validConfig()
	cfg.Storage.Driver = StorageRedis
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for redis driver without addr")
	}
	cfg.Storage.Redis.Addr = "localhost:6379"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
}

func TestNormalizeMenuRejectsNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Menu.ExpirySeconds = -1
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for negative expiry")
	}

	cfg = validConfig()
	cfg.Menu.SweepSeconds = -5
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for negative sweep interval")
	}
}

func TestNormalizeRateLimitExcludes(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.ExcludeUpdates = []string{" Callback ", "message"}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.RateLimit.ExcludeUpdates[0] != UpdateCallback {
		t.Errorf("exclude[0] = %q, want %q", cfg.RateLimit.ExcludeUpdates[0], UpdateCallback)
	}

	cfg = validConfig()
	cfg.RateLimit.ExcludeUpdates = []string{"poll"}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for unknown exclude value")
	}
}
