package commands

import (
	"github.com/spf13/cobra"

	"github.com/particlekit/particlekit/internal/cli/ui"
	"github.com/particlekit/particlekit/internal/storage"
)

var dimDescriptions = map[storage.Dim]string{
	storage.Dim1D: "density profile along one axis, as text",
	storage.Dim2D: "density projected along one axis, as text blocks",
}

// NewStorageCommand creates the storage command group
func NewStorageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect output storage backends",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List storage backends by dimensionality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := ui.NewTable(cmd.OutOrStdout(), []string{"DIM", "DESCRIPTION"}, a.colorless())
			for _, dim := range storage.Dims() {
				table.AddRow(string(dim), dimDescriptions[dim])
			}
			table.Render()
			return nil
		},
	})
	return cmd
}
