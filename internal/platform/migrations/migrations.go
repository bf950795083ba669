// Package migrations applies the database schema on startup. The runner is
// deliberately idempotent: every statement tolerates re-execution and a
// schema_version table records which steps have run, so a crashed or
// partially provisioned database converges on the next boot. There is no
// rollback; fixing forward is the only supported direction.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type step struct {
	version    int
	name       string
	statements []string
}

var steps = []step{
	{
		version: 1,
		name:    "users",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				display_name TEXT,
				role TEXT NOT NULL DEFAULT 'member',
				auth_provider TEXT NOT NULL DEFAULT 'legacy',
				firebase_uid TEXT,
				password_hash TEXT,
				email_verified BOOLEAN NOT NULL DEFAULT FALSE,
				email_opt_out BOOLEAN NOT NULL DEFAULT FALSE,
				disabled BOOLEAN NOT NULL DEFAULT FALSE,
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (email)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS users_firebase_uid_idx ON users (firebase_uid) WHERE firebase_uid IS NOT NULL`,
		},
	},
	{
		version: 2,
		name:    "subscription_types",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS subscription_types (
				id TEXT PRIMARY KEY,
				key TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				default_opt_in BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS subscription_types_key_idx ON subscription_types (key)`,
		},
	},
	{
		version: 3,
		name:    "subscriptions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS subscriptions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
				type_id TEXT NOT NULL REFERENCES subscription_types (id) ON DELETE CASCADE,
				channel TEXT NOT NULL DEFAULT 'email',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_user_type_channel_idx
				ON subscriptions (user_id, type_id, channel)`,
			`CREATE INDEX IF NOT EXISTS subscriptions_user_idx ON subscriptions (user_id)`,
		},
	},
	{
		version: 4,
		name:    "notifications",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
				type_key TEXT NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				read BOOLEAN NOT NULL DEFAULT FALSE,
				read_at TIMESTAMPTZ,
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS notifications_user_read_idx ON notifications (user_id, read)`,
		},
	},
	{
		version: 5,
		name:    "notification email delivery columns",
		statements: []string{
			`ALTER TABLE notifications ADD COLUMN IF NOT EXISTS email_status TEXT NOT NULL DEFAULT 'pending'`,
			`ALTER TABLE notifications ADD COLUMN IF NOT EXISTS email_error TEXT`,
		},
	},
}

// Apply brings the schema up to date. Safe to call on every startup.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}

	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := applyStep(ctx, db, st); err != nil {
			return fmt.Errorf("migration %d (%s): %w", st.version, st.name, err)
		}
	}
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, st step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range st.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES ($1, $2, $3)`,
		st.version, st.name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// Latest reports the highest known schema version. Exposed for the readiness
// probe.
func Latest() int {
	return steps[len(steps)-1].version
}

// Current reads the applied schema version from the database.
func Current(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return 0, err
	}
	return current, nil
}
