package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("STORAGE_ENDPOINT", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.BaseURL != "https://agitracker.io" {
		t.Fatalf("expected default base url, got %q", cfg.BaseURL)
	}
	if cfg.OutboxPollInterval != time.Second {
		t.Fatalf("expected 1s poll interval, got %s", cfg.OutboxPollInterval)
	}
	if cfg.StorageConfigured() {
		t.Fatal("storage should not be configured by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BASE_URL", "http://localhost:3000/")
	t.Setenv("OUTBOX_BATCH_SIZE", "5")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("SESSION_TTL_SECONDS", "not-a-number")
	t.Setenv("STORAGE_ENDPOINT", "minio:9000")
	t.Setenv("STORAGE_BUCKET", "images")

	cfg := Load()
	if cfg.BaseURL != "http://localhost:3000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.OutboxBatchSize != 5 {
		t.Fatalf("expected batch size 5, got %d", cfg.OutboxBatchSize)
	}
	if cfg.CookieSecure {
		t.Fatal("expected cookie secure override to false")
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Fatalf("invalid int should fall back to default, got %s", cfg.SessionTTL)
	}
	if !cfg.StorageConfigured() {
		t.Fatal("expected storage configured")
	}
}
