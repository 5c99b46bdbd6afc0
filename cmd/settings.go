package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and override runtime settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				current, err := appInstance.Settings().Current(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), current)
			},
		},
		&cobra.Command{
			Use:   "set <name=value>...",
			Short: "Persist setting overrides",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				overrides := make(map[string]string, len(args))
				for _, arg := range args {
					name, value, ok := strings.Cut(arg, "=")
					if !ok || strings.TrimSpace(name) == "" {
						return crawler.Invalid("setting", fmt.Sprintf("expected name=value, got %q", arg))
					}
					overrides[strings.TrimSpace(name)] = strings.TrimSpace(value)
				}
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				updated, err := appInstance.Settings().Update(cmd.Context(), overrides)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			},
		},
	)
	return cmd
}
