package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/madara-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Run the HTTP API and the periodic scheduler",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationOwnsApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply the database schema",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			version, err := server.Migrate(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready (version %d)\n", cfg.Database.Driver, version)
			return nil
		},
	}
}
