package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage scrape sources",
	}
	cmd.AddCommand(
		newSourceAddCmd(),
		newSourceListCmd(),
		newSourceDeleteCmd(),
		newSourceActiveCmd("activate", true),
		newSourceActiveCmd("deactivate", false),
	)
	return cmd
}

func newSourceAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a site after probing its listing page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := appInstance.Sources().AddSource(withRun(cmd.Context()), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %d added\n", id)
			return nil
		},
	}
}

func newSourceListCmd() *cobra.Command {
	var activeOnly bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter := crawler.SourceFilter{Limit: limit, Offset: offset}
			if activeOnly {
				active := true
				filter.Active = &active
			}
			sources, err := appInstance.Sources().ListSources(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sources)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active sources")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of sources (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of sources to skip")
	return cmd
}

func newSourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a source with its collections and units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Sources().DeleteSource(withRun(cmd.Context()), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %d deleted\n", id)
			return nil
		},
	}
}

func newSourceActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a source %sd for scheduled checks", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Sources().SetActive(cmd.Context(), id, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %d %sd\n", id, use)
			return nil
		},
	}
}
