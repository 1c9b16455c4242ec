package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSearchCmd queries a table for nearest neighbors.
func newSearchCmd() *cobra.Command {
	var tableID string
	var vectors []string
	var k int
	var dates []string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query nearest neighbors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(vectors) == 0 {
				return fmt.Errorf("at least one --vector is required")
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			var flat []float32
			for _, v := range vectors {
				vec, err := parseVector(v)
				if err != nil {
					return err
				}
				flat = append(flat, vec...)
			}

			results, err := database.Query(cmd.Context(), tableID, k, len(vectors), flat, datesOrNil(dates))
			if err != nil {
				return err
			}

			for i, row := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "query %d: %v\n", i, row)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tableID, "table", "", "Table identifier")
	cmd.Flags().StringArrayVar(&vectors, "vector", nil, "Comma-separated query vector (repeatable)")
	cmd.Flags().IntVar(&k, "k", 10, "Number of neighbors per query")
	cmd.Flags().StringArrayVar(&dates, "date", nil, "Date partition YYYY-MM-DD (repeatable; default today)")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

// datesOrNil maps an unset flag to the nil default-today convention.
func datesOrNil(dates []string) []string {
	if len(dates) == 0 {
		return nil
	}
	return dates
}
