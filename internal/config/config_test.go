package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.OutboxMaxAttempts != 5 {
		t.Errorf("expected default outbox max attempts 5, got %d", cfg.OutboxMaxAttempts)
	}
	if cfg.OutboxInterval != 5*time.Second {
		t.Errorf("expected default outbox interval 5s, got %s", cfg.OutboxInterval)
	}
	if cfg.ConsumerMaxAttempts != 4 {
		t.Errorf("expected default consumer max attempts 4, got %d", cfg.ConsumerMaxAttempts)
	}
	if len(cfg.TenantIDs) != 2 {
		t.Errorf("expected two default tenant ids, got %v", cfg.TenantIDs)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OUTBOX_INTERVAL", "250ms")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "7")
	t.Setenv("TENANT_IDS", " 10, 20 ,30 ")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()
	if cfg.OutboxInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms interval, got %s", cfg.OutboxInterval)
	}
	if cfg.OutboxMaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", cfg.OutboxMaxAttempts)
	}
	if len(cfg.TenantIDs) != 3 || cfg.TenantIDs[0] != "10" || cfg.TenantIDs[2] != "30" {
		t.Errorf("unexpected tenant ids: %v", cfg.TenantIDs)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis TLS enabled")
	}
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("CONSUMER_MAX_ATTEMPTS", "not-a-number")
	cfg := Load()
	if cfg.ConsumerMaxAttempts != 4 {
		t.Errorf("expected fallback to default, got %d", cfg.ConsumerMaxAttempts)
	}
}
