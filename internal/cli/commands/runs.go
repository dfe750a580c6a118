package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/particlekit/particlekit/internal/catalog"
	"github.com/particlekit/particlekit/internal/cli/ui"
	"github.com/particlekit/particlekit/internal/plugin"
)

// NewRunsCommand creates the runs command group
func NewRunsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse the run catalog",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Catalog.DSN == "" {
				return errors.New("no run catalog configured (set catalog.dsn)")
			}
			cat, err := catalog.Open(cmd.Context(), a.cfg.Catalog.DSN)
			if err != nil {
				return err
			}
			defer cat.Close()

			records, err := cat.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			table := ui.NewTable(cmd.OutOrStdout(),
				[]string{"ID", "STARTED", "DESCRIPTOR", "DIM", "NMESH", "RANKS", "TOTAL", "DURATION"}, a.colorless())
			for _, r := range records {
				table.AddRow(
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Descriptor,
					r.Dim,
					fmt.Sprintf("%dx%dx%d", r.Nmesh[0], r.Nmesh[1], r.Nmesh[2]),
					strconv.Itoa(r.Ranks),
					strconv.FormatFloat(r.Total, 'g', -1, 64),
					r.Duration.Round(time.Millisecond).String(),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show, 0 for all")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Catalog.DSN == "" {
				return errors.New("no run catalog configured (set catalog.dsn)")
			}
			cat, err := catalog.Open(cmd.Context(), a.cfg.Catalog.DSN)
			if err != nil {
				return err
			}
			defer cat.Close()

			r, err := cat.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), a.colorless())
			kv.AddRow("id", r.ID)
			kv.AddRow("descriptor", r.Descriptor)
			kv.AddRow("dim", r.Dim)
			kv.AddRow("nmesh", fmt.Sprintf("%d %d %d", r.Nmesh[0], r.Nmesh[1], r.Nmesh[2]))
			kv.AddRow("box size", plugin.FormatBoxSize(r.BoxSize))
			kv.AddRow("ranks", strconv.Itoa(r.Ranks))
			kv.AddRow("total", strconv.FormatFloat(r.Total, 'g', -1, 64))
			kv.AddRow("output", r.Output)
			kv.AddRow("started", r.StartedAt.Local().Format(time.RFC3339))
			kv.AddRow("duration", r.Duration.String())
			kv.Render()
			return nil
		},
	})
	return cmd
}
