// Package db selects the concrete database driver based on the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
	"github.com/skinsense/skinsense/store/db/postgres"
	"github.com/skinsense/skinsense/store/db/sqlite"
)

// NewDBDriver creates a new database driver for the configured backend.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported database driver: %s", profile.Driver)
	}
}
