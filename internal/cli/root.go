// Package cli implements the chunkcache command line.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkcache"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chunkcache",
	Short: "Tiered in-memory chunk cache",
	Long: "chunkcache keeps world chunk payloads in memory, compresses idle chunks and unloads " +
		"chunks nobody has touched for a while. The serve command runs it behind an admin API.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(soakCmd)
}

// loadConfig returns the --config file, or the defaults when none is given.
func loadConfig() (chunkcache.Config, error) {
	if configPath == "" {
		return chunkcache.DefaultConfig(), nil
	}
	return chunkcache.LoadConfig(configPath)
}

func newLogger() (*chunkcache.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	return chunkcache.NewTextLogger(level), nil
}
