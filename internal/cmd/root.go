// Package cmd implements the typerankctl command tree. Commands operate
// on the contest database directly, except leaderboard watch, which
// subscribes to a running server over WebSocket.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/config"
	"github.com/ryoh/typerank/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "typerankctl",
	Short: "operate a typerank contest server",
	Long: `typerankctl - operator tooling for the typerank contest platform
  - create and schedule contests, wire prompt pools
  - seed prompts from YAML files
  - inspect and watch leaderboards
  - promote users to admin`,
}

// configPath overrides the config file location (also TYPERANK_CONFIG).
var configPath string

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the typerankd config file")

	rootCmd.AddCommand(contestCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the server configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// openStore opens the contest database with the same settings typerankd
// uses, so ctl commands and a running daemon share one WAL politely.
func openStore() (*storage.SQLiteStore, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = config.DefaultPaths().DatabaseFile()
	}

	store, err := storage.NewSQLiteStore(dbPath,
		storage.WithBusyTimeout(time.Duration(cfg.Database.BusyTimeoutMs)*time.Millisecond),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	return store, cfg, nil
}
