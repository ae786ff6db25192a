package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/internal/profile"
	"github.com/hrygo/shelfscan/store"
	"github.com/hrygo/shelfscan/store/db/postgres"
	"github.com/hrygo/shelfscan/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
//
// SQLite is the embedded default for a single terminal. PostgreSQL serves a catalog shared
// by several terminals and uses pgvector for the vector indexes.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
