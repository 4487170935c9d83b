package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"storyboard/config"
	"storyboard/config/database"
	"storyboard/migrations"
	"storyboard/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.DatabaseConfigured() {
				return errors.New("migrate: no database configured (set host and dbname)")
			}

			db, err := database.Connect(cmd.Context(), cfg.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Up(cmd.Context(), db); err != nil {
				return err
			}
			logger.Sugar.Info("Migrations applied")
			return nil
		},
	}
}
