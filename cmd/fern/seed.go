package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/seed"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func newSeedCommand(envFile *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load templates and sample entities into the database",
		Long:  "Load templates and sample entities from a YAML file, or the built-in fixtures when --file is empty. Existing templates and entities with the same name are skipped.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, sync, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			defer sync()

			fixtures := seed.Default()
			if file != "" {
				if fixtures, err = seed.LoadFile(file); err != nil {
					return err
				}
			}

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := workflow.NewEngine(repositories.NewStore(db, logger), logger)
			summary, err := seed.Apply(cmd.Context(), engine, fixtures, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "templates: %d created, %d skipped\nentities: %d created, %d skipped\n",
				summary.TemplatesCreated, summary.TemplatesSkipped, summary.EntitiesCreated, summary.EntitiesSkipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixtures file")
	return cmd
}
