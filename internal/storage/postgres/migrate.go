package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration directions accepted by Migrate.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// ErrInvalidDirection is returned by Migrate for a direction other than up or down.
var ErrInvalidDirection = errors.New("invalid migration direction")

// MigrationResult reports the schema version after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies (up) or rolls back (down) the embedded journal migrations.
// steps of 0 means all of them.
//
// Precondition: dsn must be a postgres:// URL; steps must be >= 0.
// Postcondition: Returns the resulting version, or an error. Running with
// nothing to apply is not an error; Changed is false.
func Migrate(dsn, direction string, steps int) (MigrationResult, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return MigrationResult{}, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("opening embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch {
	case direction == DirectionUp && steps > 0:
		err = m.Steps(steps)
	case direction == DirectionUp:
		err = m.Up()
	case steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}

	res := MigrationResult{Changed: true}
	if errors.Is(err, migrate.ErrNoChange) {
		res.Changed = false
		err = nil
	}
	if err != nil {
		return res, fmt.Errorf("migrating %s: %w", direction, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return res, fmt.Errorf("reading schema version: %w", verr)
	}
	res.Version, res.Dirty = version, dirty
	return res, nil
}
