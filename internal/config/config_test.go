package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.DBMaxConns != 20 || cfg.DBMaxIdle != 10 || cfg.DBMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected pool defaults: %d %d %s", cfg.DBMaxConns, cfg.DBMaxIdle, cfg.DBMaxLifetime)
	}
	if cfg.ProjectKeyPrefix != "PRJ-" {
		t.Fatalf("expected PRJ- prefix, got %q", cfg.ProjectKeyPrefix)
	}
	if cfg.AIEnabled() {
		t.Fatal("expected AI to be disabled without an api key")
	}
	if cfg.StreakLocation() != time.UTC {
		t.Fatalf("expected UTC streak location, got %s", cfg.StreakLocation())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("AI_API_KEY", "sk-test")
	t.Setenv("AI_MAX_TASKS", "3")
	t.Setenv("REFRESH_TTL", "2h")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("PROJECT_KEY_PREFIX", "NF-")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.Addr)
	}
	if !cfg.AIEnabled() || cfg.AIMaxTasks != 3 {
		t.Fatalf("unexpected ai config: enabled=%v max=%d", cfg.AIEnabled(), cfg.AIMaxTasks)
	}
	if cfg.RefreshTTL != 2*time.Hour {
		t.Fatalf("expected 2h refresh ttl, got %s", cfg.RefreshTTL)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL from environment")
	}
	if cfg.ProjectKeyPrefix != "NF-" {
		t.Fatalf("expected NF- prefix, got %q", cfg.ProjectKeyPrefix)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("STREAK_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	if err == nil {
		t.Fatal("expected timezone validation error")
	}
	if !strings.Contains(err.Error(), "streak_timezone") {
		t.Fatalf("expected streak_timezone in error, got %v", err)
	}
}
