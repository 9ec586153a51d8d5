package app

import (
	"context"
	"errors"
)

// Migrate applies pending SQL migrations from database.migrations_path.
func (a *App) Migrate(ctx context.Context, dir string) error {
	if dir == "" {
		dir = a.Config.Database.MigrationsPath
	}
	if dir == "" {
		return errors.New("database.migrations_path not configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot migrate")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, dir)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("applied", applied).Str("dir", dir).Msg("migrations complete")
	return nil
}
