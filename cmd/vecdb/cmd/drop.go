package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDropCmd deletes a table's partitions or the entire database.
func newDropCmd() *cobra.Command {
	var tableID string
	var dates []string
	var all bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a table's segments or the whole database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && tableID == "" {
				return fmt.Errorf("either --table or --all is required")
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if all {
				if err := database.DropAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dropped all tables")
				return nil
			}

			if err := database.DeleteTable(cmd.Context(), tableID, dates); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s segments for deletion\n", tableID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tableID, "table", "", "Table identifier")
	cmd.Flags().StringArrayVar(&dates, "date", nil, "Date partition to drop (repeatable; default all)")
	cmd.Flags().BoolVar(&all, "all", false, "Drop every table and segment")

	return cmd
}
