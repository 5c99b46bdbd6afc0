package cmd

import (
	"github.com/spf13/cobra"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run a crawl in the foreground",
	}
	cmd.AddCommand(newScrapeSourceCmd(), newScrapeCollectionCmd(), newScrapeUnitCmd())
	return cmd
}

func newScrapeSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "source <source-id>",
		Short: "Walk every listing page of a source and queue its collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[0], "source_id")
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := withRun(cmd.Context())
			src, err := appInstance.Sources().GetSource(ctx, sourceID)
			if err != nil {
				return err
			}
			report, err := appInstance.Collections().ScrapeAll(ctx, src)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newScrapeCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collection <source-id> <collection-id>",
		Short: "Catalog one collection and queue its new units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[0], "source_id")
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := withRun(cmd.Context())
			src, err := appInstance.Sources().GetSource(ctx, sourceID)
			if err != nil {
				return err
			}
			coll, report, err := appInstance.Collections().ScrapeCollection(ctx, src, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"collection": coll, "units": report})
		},
	}
}

func newScrapeUnitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unit <source-id> <collection-id> <unit-id>",
		Short: "Download the pages of one unit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[0], "source_id")
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := withRun(cmd.Context())
			src, err := appInstance.Sources().GetSource(ctx, sourceID)
			if err != nil {
				return err
			}
			report, err := appInstance.Units().ScrapeUnit(ctx, src, args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}
