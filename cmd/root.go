// Package cmd contains the buildmaster CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildmaster/buildmaster/internal/config"
	"github.com/buildmaster/buildmaster/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "buildmaster",
	Short:         "BuildMaster AI, a retrieval-augmented PC build assistant",
	Long:          "BuildMaster AI serves chat, build recommendations, and a\nknowledge base over HTTP, backed by PostgreSQL with pgvector.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment switches
// on debug-level output.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo, JSON: true}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	return log.New(cfg)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
