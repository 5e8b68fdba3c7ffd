package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand(envFile *string) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, sync, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			defer sync()

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			migrations := migrationService(cfg, logger)
			if down > 0 {
				return migrations.Down(db, cfg.DatabaseName, down)
			}
			return migrations.Migrate(db, cfg.DatabaseName)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}
