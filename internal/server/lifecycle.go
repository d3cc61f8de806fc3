package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ryoh/typerank/internal/auth"
	"github.com/ryoh/typerank/internal/config"
	"github.com/ryoh/typerank/internal/metrics"
	"github.com/ryoh/typerank/internal/realtime"
	"github.com/ryoh/typerank/internal/storage"
)

// Run assembles the daemon from cfg and blocks until shutdown. It handles
// signals for lifecycle management:
//   - SIGTERM/SIGINT: graceful shutdown (drain HTTP, stop loops, close DB, remove lock file)
//   - SIGHUP: reload the log level from the config file
//   - SIGPIPE: ignore (prevent crashes on broken pipe)
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) error {
	if logger == nil {
		logger = slog.Default()
	}

	// Check privilege safety
	if err := CheckNotRoot(); err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set: configure it or export TYPERANK_JWT_SECRET")
	}

	paths := config.DefaultPaths()
	if err := EnsureSecureDirectory(paths.Root); err != nil {
		return fmt.Errorf("failed to secure data directory: %w", err)
	}

	// Acquire lock file to prevent double-start
	lockPath := cfg.Server.LockFile
	if lockPath == "" {
		lockPath = paths.LockFile()
	}
	lockFile := NewLockFile(lockPath)
	if err := lockFile.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lockFile.Release()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = paths.DatabaseFile()
	}
	store, err := storage.NewSQLiteStore(dbPath,
		storage.WithBusyTimeout(time.Duration(cfg.Database.BusyTimeoutMs)*time.Millisecond),
		storage.WithCheckpointInterval(time.Duration(cfg.Janitor.CheckpointIntervalMs)*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}()

	authSvc, err := auth.NewService(store, auth.Options{
		Secret:     cfg.Auth.JWTSecret,
		AccessTTL:  time.Duration(cfg.Auth.AccessTTLMins) * time.Minute,
		RefreshTTL: time.Duration(cfg.Auth.RefreshTTLHours) * time.Hour,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	m := metrics.New()
	hub := realtime.NewHub()

	// The external publisher and the bridge are both optional: without a
	// broker the leaderboard still fans out in-process.
	var external realtime.Publisher
	var bridgeClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pub := realtime.NewRedisPublisher(client, logger)
		external = pub
		bridgeClient = client
		m.RegisterBreaker(pub.Breaker())
		logger.Info("redis publisher enabled", "addr", cfg.Redis.Addr)
	}

	fanout := realtime.NewFanout(hub, external, logger)
	m.RegisterFanout(fanout)

	var bridge *realtime.Bridge
	if bridgeClient != nil {
		bridge = realtime.NewBridge(bridgeClient, hub, fanout.NodeID(), logger)
	}

	server, err := NewServer(&ServerConfig{
		Config:  cfg,
		Store:   store,
		Auth:    authSvc,
		Fanout:  fanout,
		Metrics: m,
		Bridge:  bridge,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Create context that cancels on signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Ignore SIGPIPE to prevent crash on broken pipe
	signal.Ignore(syscall.SIGPIPE)

	// Handle signals
	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					logger.Info("received shutdown signal", "signal", sig)
					server.Shutdown()
					cancel()
					return

				case syscall.SIGHUP:
					logger.Info("received SIGHUP, reloading log level")
					if level == nil {
						logger.Debug("no level handle configured, ignoring SIGHUP")
						break
					}
					reloaded, err := config.Load()
					if err != nil {
						logger.Error("failed to reload configuration", "error", err)
						break
					}
					level.Set(config.ParseLogLevel(reloaded.Log.Level))
					logger.Info("log level reloaded", "level", reloaded.Log.Level)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// Start server (blocking)
	return server.Start(ctx)
}
