package paymentauth

import (
	"context"
	"database/sql"
	"io/fs"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// SetupPersistence registers this package's models, wires a persistence client
// for the given database handle, and applies the embedded migrations. The
// returned client owns the *bun.DB used by the repositories.
func SetupPersistence(ctx context.Context, cfg persistence.Config, sqldb *sql.DB) (*persistence.Client, error) {
	persistence.RegisterModel((*Authentication)(nil))
	persistence.RegisterModel((*AuthenticationEvent)(nil))

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		return nil, err
	}

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, err
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return nil, err
	}

	if err := client.Migrate(ctx); err != nil {
		return nil, err
	}

	return client, nil
}
