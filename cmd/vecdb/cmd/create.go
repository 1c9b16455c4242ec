package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecdb/internal/meta"
)

// newCreateCmd registers a table.
func newCreateCmd() *cobra.Command {
	var tableID string
	var dim int
	var metric string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			schema := &meta.TableSchema{TableID: tableID, Dimension: dim, Metric: metric}
			if err := database.CreateTable(cmd.Context(), schema); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created table %s (dim=%d, metric=%s)\n",
				tableID, dim, schema.Metric)
			return nil
		},
	}

	cmd.Flags().StringVar(&tableID, "table", "", "Table identifier")
	cmd.Flags().IntVar(&dim, "dim", 0, "Vector dimension")
	cmd.Flags().StringVar(&metric, "metric", "l2", "Distance metric (l2 or ip)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("dim")

	return cmd
}
