package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInsertCmd inserts vectors into a table.
func newInsertCmd() *cobra.Command {
	var tableID string
	var vectors []string
	var flush bool

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert vectors into a table",
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

			ids, err := database.InsertVectors(cmd.Context(), tableID, flat)
			if err != nil {
				return err
			}
			if flush {
				if err := database.Flush(cmd.Context()); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d vectors, ids %v\n", len(ids), ids)
			return nil
		},
	}

	cmd.Flags().StringVar(&tableID, "table", "", "Table identifier")
	cmd.Flags().StringArrayVar(&vectors, "vector", nil, "Comma-separated vector (repeatable)")
	cmd.Flags().BoolVar(&flush, "flush", false, "Flush buffers so the insert is immediately queryable")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}
