package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drive the work queue",
	}
	cmd.AddCommand(
		newQueueStatsCmd(),
		newQueueProcessCmd(),
		newQueueRetryFailedCmd(),
		newQueueResetCmd(),
		newQueueClearCmd(),
	)
	return cmd
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item counts by status and kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.Queue().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newQueueProcessCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Claim and execute one batch of pending items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := withRun(cmd.Context())
			if n <= 0 {
				current, err := appInstance.Settings().Current(ctx)
				if err != nil {
					return err
				}
				n = current.BatchSize
			}
			report, err := appInstance.Queue().Process(ctx, n, appInstance.Dispatcher())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVarP(&n, "batch", "n", 0, "items to claim (defaults to the batch_size setting)")
	return cmd
}

func newQueueRetryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Return failed items to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Queue().RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items requeued\n", n)
			return nil
		},
	}
}

func newQueueResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-processing",
		Short: "Return items stuck in processing to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Queue().ResetProcessing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items reset\n", n)
			return nil
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	var status, kind string
	var sourceID int64
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete queue items matching the filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := queue.Filter{
				Status:   crawler.QueueStatus(status),
				Kind:     crawler.ItemKind(kind),
				SourceID: sourceID,
			}
			if filter.Status != "" && !filter.Status.Valid() {
				return crawler.Invalid("status", fmt.Sprintf("unknown status %q", status))
			}
			if filter.Kind != "" && !filter.Kind.Valid() {
				return crawler.Invalid("kind", fmt.Sprintf("unknown kind %q", kind))
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Queue().Clear(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items deleted\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only items in this status (pending, processing, completed, failed)")
	cmd.Flags().StringVar(&kind, "kind", "", "only items of this kind (collection, unit)")
	cmd.Flags().Int64Var(&sourceID, "source", 0, "only items of this source")
	return cmd
}
