package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.OpsPort != 9090 {
		t.Errorf("ops port = %d, want 9090", cfg.Server.OpsPort)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("token ttl = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Logging.Format)
	}
	if cfg.RateLimit.RequestsPerSecond != 20 {
		t.Errorf("rps = %d, want 20", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LANTERN_SERVER_PORT", "9000")
	t.Setenv("LANTERN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFileOverlayWins(t *testing.T) {
	t.Setenv("LANTERN_SERVER_PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9100\nlogging:\n  level: warn\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server port = %d, want 9100 from overlay", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidateRejectsPortClash(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.OpsPort = 8080
	cfg.RateLimit.RequestsPerSecond = 10

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected port clash error")
	}
}

func TestValidateRequiresSenderWithSMTP(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.OpsPort = 9090
	cfg.RateLimit.RequestsPerSecond = 10
	cfg.SMTP.Host = "smtp.example.com"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected smtp sender error")
	}
}
