// Command townsim runs the tavern town NPC simulation.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "townsim",
	Short: "Tavern town NPC simulation",
	Long: `townsim simulates townsfolk who roam a tavern and its street, tire over time,
queue for stools, beds and food, and stop to chat with each other.

The run command serves the simulation over HTTP and streams presentation
frames to websocket clients; events are journaled to SQL for later review.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.AddCommand(runCmd, schemaCmd, hashKeyCmd)
}

func setupLogging(level string, asJSON bool) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
