//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/lanternhq/lantern-api/internal/app"
	"github.com/lanternhq/lantern-api/internal/app/storage/postgres"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/logging"
	"github.com/lanternhq/lantern-api/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations + core flows work
// with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.NewFromSQL(db)
	signer := auth.NewUnsubscribeSigner("integration-unsub", time.Hour)
	application, err := app.New(app.Stores{
		Users:         store,
		Subscriptions: store,
		Notifications: store,
	}, app.Options{Signer: signer}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	legacy := auth.NewLegacyVerifier("integration-secret", time.Hour)
	handler := NewHandler(application, Config{
		Legacy:   legacy,
		Verifier: auth.NewChainVerifier(legacy),
		Sessions: application.Sessions,
		Log:      logging.NewNop(),
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	client := server.Client()

	email := "pg-" + time.Now().UTC().Format("20060102150405") + "@example.com"
	registerBody, _ := json.Marshal(map[string]any{
		"email": email, "password": "integration-pass", "display_name": "PG",
	})
	resp, err := client.Post(server.URL+"/auth/register", "application/json", bytes.NewReader(registerBody))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	var registered struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	meResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", meResp.StatusCode)
	}

	ops := httptest.NewServer(NewOpsHandler(db, NewAuditLog(50, nil)))
	defer ops.Close()
	ready, err := client.Get(ops.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", ready.StatusCode)
	}

	// Cleanup the created user so reruns stay idempotent.
	if err := application.Users.Delete(ctx, registered.User.ID); err != nil {
		t.Fatalf("cleanup user: %v", err)
	}
}
