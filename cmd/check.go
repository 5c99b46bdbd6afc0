package cmd

import (
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one scheduler pass in the foreground",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "sources",
			Short: "Check every active source for new collections and units",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				report, err := appInstance.Scheduler().CheckSources(withRun(cmd.Context()))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			},
		},
		&cobra.Command{
			Use:   "queue",
			Short: "Drain one batch the way the scheduler does",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				report, err := appInstance.Scheduler().ProcessQueue(withRun(cmd.Context()))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			},
		},
	)
	return cmd
}
