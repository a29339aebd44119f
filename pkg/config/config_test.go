package config

import (
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.DB.CacheCapacity != 5000 {
		t.Fatalf("expected default cache capacity 5000, got %d", cfg.DB.CacheCapacity)
	}
	if got := cfg.Scan.InactivityTimeout; got != 10*time.Second {
		t.Fatalf("expected scan inactivity 10s, got %v", got)
	}
	if !cfg.Replication.LocalOnly() {
		t.Fatal("expected local-only mode when no remote url is set")
	}
}

func TestLoad_MissingDBPath(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvDBPath, "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing db path to return an error")
	}
}

func TestLoad_RemoteConfigured(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvRemoteURL, "http://couch.local:5984/pos")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Replication.LocalOnly() {
		t.Fatal("expected replication to be enabled")
	}
	if cfg.Replication.BackoffMax != 60*time.Second {
		t.Fatalf("expected backoff cap 60s, got %v", cfg.Replication.BackoffMax)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvTerminalID, "terminal-1")
	t.Setenv(EnvDBPath, "/tmp/mizan-test.db")
	t.Setenv(EnvRemoteURL, "")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}
}
