package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/goAccount/migrations"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply every pending goose migration of the account schema to PostgreSQL.`,
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configFile, envFile)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("postgres url is required (postgres.url or %sPOSTGRES_URL)", envPrefix)
	}

	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	cmd.Println("Running migrations...")
	if err := migrations.Up(ctx, db); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
