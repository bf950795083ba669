// Package main seeds a development database with the default subscription
// types and a bootstrap admin account.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/services/subscriptions"
	"github.com/lanternhq/lantern-api/internal/app/services/users"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/app/storage/postgres"
	"github.com/lanternhq/lantern-api/internal/platform/migrations"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

var defaultTypes = []subscription.Type{
	{Key: "announcements", Name: "Product announcements", DefaultOptIn: true},
	{Key: "weekly-digest", Name: "Weekly digest", DefaultOptIn: true},
	{Key: "security-alerts", Name: "Security alerts", DefaultOptIn: true},
	{Key: "marketing", Name: "Tips and offers", DefaultOptIn: false},
}

func main() {
	_ = godotenv.Load()

	dsn := flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (defaults to DATABASE_URL)")
	adminEmail := flag.String("admin-email", os.Getenv("LANTERN_ADMIN_EMAIL"), "bootstrap admin email")
	adminPass := flag.String("admin-password", os.Getenv("LANTERN_ADMIN_PASSWORD"), "bootstrap admin password")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no database configured: pass -database or set DATABASE_URL")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	seedLog := logger.NewDefault("seed")
	store := postgres.NewFromSQL(db)
	subService := subscriptions.New(store, store, nil, seedLog)
	userService := users.New(store, seedLog)

	for _, st := range defaultTypes {
		created, err := subService.CreateType(ctx, st)
		if errors.Is(err, storage.ErrConflict) {
			log.Printf("type %s already present", st.Key)
			continue
		}
		if err != nil {
			log.Fatalf("create type %s: %v", st.Key, err)
		}
		log.Printf("created type %s (%s)", created.Key, created.ID)
	}

	if *adminEmail != "" && *adminPass != "" {
		if err := userService.EnsureAdmin(ctx, *adminEmail, *adminPass); err != nil {
			log.Fatalf("ensure admin: %v", err)
		}
		log.Printf("admin %s ready", *adminEmail)
	} else {
		log.Print("admin credentials not set; skipping admin bootstrap")
	}
}
