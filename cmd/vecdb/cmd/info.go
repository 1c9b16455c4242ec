package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInfoCmd prints tables, row counts, and the physical footprint.
func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show tables and storage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			tables, err := database.AllTables(cmd.Context())
			if err != nil {
				return err
			}
			for _, table := range tables {
				rows, err := database.GetTableRowCount(cmd.Context(), table.TableID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tdim=%d\tmetric=%s\trows=%d\n",
					table.TableID, table.Dimension, table.Metric, rows)
			}

			size, err := database.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "physical size: %d bytes\n", size)
			return nil
		},
	}
}
