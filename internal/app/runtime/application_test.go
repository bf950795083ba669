package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/lanternhq/lantern-api/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            18080,
			OpsPort:         19090,
			ShutdownTimeout: 2 * time.Second,
		},
		Auth: config.AuthConfig{
			LegacySecret:      "runtime-test-secret",
			UnsubscribeSecret: "runtime-unsub-secret",
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 200},
		Logging:   config.LoggingConfig{Level: "error", Format: "json"},
	}
}

func TestNewApplicationFromConfigMemoryMode(t *testing.T) {
	app, err := NewApplicationFromConfig(memoryConfig())
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	if app.App() == nil {
		t.Fatalf("expected wired application")
	}
	if app.db != nil {
		t.Fatalf("expected no database in memory mode")
	}
	if app.redis != nil {
		t.Fatalf("expected no redis client in memory mode")
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewApplicationFromConfigBootstrapsAdmin(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.AdminBootstrapUser = "root@example.com"
	cfg.Auth.AdminBootstrapPass = "bootstrap-pass-123"

	app, err := NewApplicationFromConfig(cfg)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	defer app.Shutdown(context.Background())

	if _, err := app.App().Users.Authenticate(context.Background(), "root@example.com", "bootstrap-pass-123"); err != nil {
		t.Fatalf("authenticate bootstrap admin: %v", err)
	}
}
