package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q; want %q", cfg.RedisURL, "redis://localhost:6379/0")
	}
	if cfg.Health.DegradedThreshold != 3 || cfg.Health.UnavailableThreshold != 5 {
		t.Errorf("health thresholds = %d/%d; want 3/5",
			cfg.Health.DegradedThreshold, cfg.Health.UnavailableThreshold)
	}
	if cfg.Provider.BatchSpacing != 250*time.Millisecond {
		t.Errorf("BatchSpacing = %v; want 250ms", cfg.Provider.BatchSpacing)
	}
}

func TestLoad_MissingRedis(t *testing.T) {
	os.Unsetenv("REDIS_URL")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error due to missing REDIS_URL, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("PORT", "9000")
	t.Setenv("IG_TIMEOUT", "2s")
	t.Setenv("HEALTH_UNAVAILABLE_THRESHOLD", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d; want 9000", cfg.HTTPPort)
	}
	if cfg.Provider.StatefulTimeout != 2*time.Second {
		t.Errorf("StatefulTimeout = %v; want 2s", cfg.Provider.StatefulTimeout)
	}
	if cfg.Health.UnavailableThreshold != 7 {
		t.Errorf("UnavailableThreshold = %d; want 7", cfg.Health.UnavailableThreshold)
	}
}

func TestLoad_BadThresholds(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("HEALTH_DEGRADED_THRESHOLD", "5")
	t.Setenv("HEALTH_UNAVAILABLE_THRESHOLD", "5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for degraded >= unavailable, got nil")
	}
}
