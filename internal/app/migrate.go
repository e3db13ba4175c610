package app

import (
	"context"
	"fmt"

	"fundingcalc/internal/config"
	"fundingcalc/internal/storage"
)

// Migration actions understood by Migrate.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
	MigrateForce   = "force"
)

// MigrateOptions select a schema operation on the PostgreSQL backend.
type MigrateOptions struct {
	Action string
	// Version is the target of MigrateForce.
	Version int
}

// Migrate runs one schema operation. Only the postgres driver has versioned
// migrations; the sqlite backend migrates itself on open.
func (a *App) Migrate(ctx context.Context, opts MigrateOptions) error {
	db := a.Config.Database
	if db.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations apply to the postgres driver only (configured %q)", db.Driver)
	}

	pool, err := storage.NewPool(ctx, db)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, err := storage.NewMigrator(pool, db.MigrationsPath)
	if err != nil {
		return err
	}
	defer m.Close()

	log := a.Logger.With().Str("migrations", db.MigrationsPath).Str("action", opts.Action).Logger()

	switch opts.Action {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	case MigrateForce:
		err = m.Force(opts.Version)
	case MigrateVersion:
	default:
		return fmt.Errorf("unknown migrate action %q", opts.Action)
	}
	if err != nil {
		log.Error().Err(err).Msg("数据库迁移失败")
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("数据库迁移完成")
	fmt.Fprintf(a.out(), "version\t%d\ndirty\t%t\n", version, dirty)
	return nil
}
