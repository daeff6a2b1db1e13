package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// MigrationUp applies every pending migration under migrationPath
func MigrationUp(ctx context.Context, databaseDSN string, migrationPath string) error {
	migration, err := migrate.New(migrationPath, databaseDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate: %w", err)
	}
	defer migration.Close()

	if err := migration.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			zerolog.Ctx(ctx).Debug().Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migration up: %w", err)
	}

	version, dirty, err := migration.Version()
	if err == nil {
		zerolog.Ctx(ctx).Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrated")
	}
	return nil
}
