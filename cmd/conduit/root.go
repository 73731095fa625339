package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lbreton/conduit/internal/config"
	"github.com/lbreton/conduit/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Conduit is a model orchestration service",
	Long: `Conduit routes prompts to the right model, executes tool calls, and
keeps per-user conversation memory. It runs as an HTTP API plus a queue
worker backed by Redis.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// loadConfig builds the configuration and logger for a command.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	log := logging.New(logging.ParseLevel(level))
	return cfg, log, nil
}
