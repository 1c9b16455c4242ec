package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecdb/internal/db"
)

// newServeCmd runs the database with its background loops until
// interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the database and its background compaction loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.Open(cfg, slog.Default())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "vecdb serving from %s (ctrl-c to stop)\n", cfg.DataDir)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
			return database.Close()
		},
	}
}
