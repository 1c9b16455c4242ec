// Package cmd provides the CLI commands for vecdb.
package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecdb/internal/config"
	"github.com/Aman-CERP/vecdb/internal/db"
	"github.com/Aman-CERP/vecdb/internal/logging"
	"github.com/Aman-CERP/vecdb/pkg/version"
)

var (
	configPath     string
	dataDir        string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vecdb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vecdb",
		Short: "Embedded vector database with date-partitioned segments",
		Long: `vecdb stores high-dimensional float vectors in date-partitioned
segments, compacts and indexes them in the background, and answers
approximate top-k nearest-neighbor queries.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("vecdb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to vecdb.yaml")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newInsertCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setupLogging configures the default slog logger for all commands.
func setupLogging(cmd *cobra.Command, args []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// loadConfig loads configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openDB opens the database for a one-shot command.
func openDB() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return db.Open(cfg, slog.Default())
}

// parseVector parses a comma-separated float list.
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
