package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/particlekit/particlekit/internal/cli/ui"
)

// NewPluginsCommand creates the plugins command group
func NewPluginsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect registered particle sources",
	}
	cmd.AddCommand(newPluginsListCommand(a))
	cmd.AddCommand(newPluginsHelpCommand(a))
	return cmd
}

func newPluginsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List source types in registration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := a.sources.Entries()
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No available %s types\n", a.sources.Name())
				return nil
			}
			table := ui.NewTable(cmd.OutOrStdout(), []string{"TAG", "USAGE", "DESCRIPTION"}, a.colorless())
			for _, e := range entries {
				table.AddRow(e.Tag, e.Schema.Usage(e.Tag), e.Help)
			}
			table.Render()
			return nil
		},
	}
}

func newPluginsHelpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "help [TAG]",
		Short: "Show the arguments of one source type, or of all of them",
		Args:  cobra.MaximumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if a.sources == nil || len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return a.sources.Tags(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.sources.Help())
				return nil
			}
			usage, err := a.sources.Usage(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usage)
			return nil
		},
	}
}
