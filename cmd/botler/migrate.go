package main

import (
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	dbfiles "github.com/botlerhq/botler/db"
	"github.com/botlerhq/botler/internal/config"
	"github.com/botlerhq/botler/internal/db"
	"github.com/botlerhq/botler/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|version|force N]",
		Short: "Run database migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			migrations, err := fs.Sub(dbfiles.MigrationsFS, "migrations")
			if err != nil {
				return fmt.Errorf("migration files: %w", err)
			}
			return db.RunMigrate(logger.L, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}
