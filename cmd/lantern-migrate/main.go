// Package main is the operational migration CLI. The server applies the
// same schema on startup through internal/platform/migrations; this tool
// exists for operators who need explicit control, inspection or rollback.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func main() {
	_ = godotenv.Load()

	dsn := flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (defaults to DATABASE_URL)")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no database configured: pass -database or set DATABASE_URL")
	}

	args := flag.Args()
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, *dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer m.Close()

	if err := run(m, command, args[1:]); err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		return ignoreNoChange(m.Up())
	case "down":
		steps := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("down expects a positive step count, got %q", args[0])
			}
			steps = n
		}
		return ignoreNoChange(m.Steps(-steps))
	case "force":
		if len(args) != 1 {
			return errors.New("force expects exactly one version argument")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return m.Force(version)
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want up, down, force or version)", command)
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
