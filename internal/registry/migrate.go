package registry

import (
	"errors"
	"fmt"

	"github.com/coursegraph/backend/internal/util"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies the pending schema migrations. The migrations directory
// defaults to ./migrations and can be moved via MIGRATIONS_PATH.
func Migrate(databaseURL string) error {
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")

	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
