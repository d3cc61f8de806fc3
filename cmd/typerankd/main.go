// typerankd is the typerank contest server daemon. It serves the REST
// and WebSocket API, owns the SQLite database, and runs the background
// janitor until it is shut down by signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/config"
	"github.com/ryoh/typerank/internal/server"
)

var (
	cfgFile  string
	flagAddr string
)

var rootCmd = &cobra.Command{
	Use:   "typerankd",
	Short: "typerank contest server daemon",
	Long: `typerankd serves the typing contest platform: accounts, contests,
attempt sessions, and live leaderboards.

Configuration comes from the config file, TYPERANK_* environment
variables, and a local .env file. The server refuses to start without
auth.jwt_secret (or TYPERANK_JWT_SECRET) set.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  runInit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the config file")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides server.addr)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func main() {
	// Pick up TYPERANK_* overrides from a local .env, if present.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "typerankd: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}

	// The level handle is shared with the lifecycle so SIGHUP can reload
	// log.level from the config file without a restart.
	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log.Format, level)
	slog.SetDefault(logger)

	return server.Run(context.Background(), cfg, logger, level)
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	return config.Load()
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPaths().ConfigFile()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Printf("Wrote starter config to %s\n", path)
	fmt.Println("Set auth.jwt_secret (or export TYPERANK_JWT_SECRET) before starting the server.")
	return nil
}
