package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
)

// SQLite is the development and test backend. It keeps a single connection
// with WAL enabled; concurrent writers go through postgres in production.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// With the modernc.org/sqlite driver each pragma must be prefixed with
	// `_pragma=`. WAL journal mode avoids most locking issues for local use.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite with WAL is happiest with a single always-ready connection.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the session schema if it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS onboarding_session (
			uid TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			phase INTEGER NOT NULL DEFAULT 0,
			completion REAL NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '{}',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			expires_ts BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_onboarding_session_status ON onboarding_session (status);
		CREATE INDEX IF NOT EXISTS idx_onboarding_session_expires_ts ON onboarding_session (expires_ts);
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate session schema")
	}
	return nil
}
