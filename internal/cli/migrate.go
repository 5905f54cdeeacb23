package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"verifykit/internal/config"
	pgstore "verifykit/internal/infra/postgres"
	pgmigrations "verifykit/internal/infra/postgres/migrations"
	"verifykit/internal/infra/sqlite"
)

// NewMigrateCmd applies database migrations and optionally seeds the
// configured profiles.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert profiles.items into the configured databases")
	return cmd
}

func runMigrations(ctx context.Context, configPath string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL == "" && cfg.SQLite.Path == "" {
		return fmt.Errorf("neither postgres url nor sqlite path configured")
	}
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}
	if seed {
		return seedProfiles(ctx, cfg, logger)
	}
	return nil
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.String("group", group.String()))
	return nil
}

func seedProfiles(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store := pgstore.NewProfileLoader(pool)
		for _, p := range cfg.Profiles.Items {
			if err := store.SaveProfile(ctx, p); err != nil {
				return err
			}
		}
		logger.Info("seeded postgres profiles", zap.Int("count", len(cfg.Profiles.Items)))
	}
	if cfg.SQLite.Path != "" {
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		for _, p := range cfg.Profiles.Items {
			if err := store.SaveProfile(ctx, p); err != nil {
				return err
			}
		}
		logger.Info("seeded sqlite profiles", zap.Int("count", len(cfg.Profiles.Items)))
	}
	return nil
}
