package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the typerank server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Redis       RedisConfig       `yaml:"redis"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Janitor     JanitorConfig     `yaml:"janitor"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`                // Listen address (host:port)
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms"` // Drain window on SIGTERM
	MaxBodyBytes      int      `yaml:"max_body_bytes"`      // Request body cap in bytes
	CORSOrigins       []string `yaml:"cors_origins"`        // Allowed browser origins
	LockFile          string   `yaml:"lock_file"`           // Lock file path (overrides default)
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`            // Database file path (overrides default)
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"` // SQLite busy timeout in ms
}

// AuthConfig holds token and password settings.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`        // HS256 signing secret (required to serve)
	AccessTTLMins   int    `yaml:"access_ttl_mins"`   // Access token lifetime in minutes
	RefreshTTLHours int    `yaml:"refresh_ttl_hours"` // Refresh token lifetime in hours
	BcryptCost      int    `yaml:"bcrypt_cost"`       // Password hashing cost
}

// RedisConfig holds cross-node publishing settings.
type RedisConfig struct {
	Addr string `yaml:"addr"` // Broker address (host:port); empty disables publishing
}

// LeaderboardConfig holds leaderboard query limits.
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"` // Rows returned when the query omits limit
	MaxLimit     int `yaml:"max_limit"`     // Hard cap on requested rows
}

// JanitorConfig holds background sweep settings.
type JanitorConfig struct {
	IntervalMs           int `yaml:"interval_ms"`            // Session/token sweep cadence in ms
	CheckpointIntervalMs int `yaml:"checkpoint_interval_ms"` // WAL checkpoint cadence in ms
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8480",
			ShutdownTimeoutMs: 10000,
			MaxBodyBytes:      1 << 20, // generous headroom over a max-size keylog
			CORSOrigins:       []string{"*"},
			LockFile:          "", // Use default from paths
		},
		Database: DatabaseConfig{
			Path:          "", // Use default from paths
			BusyTimeoutMs: 5000,
		},
		Auth: AuthConfig{
			JWTSecret:       "", // Must be provided; the server refuses to start without it
			AccessTTLMins:   15,
			RefreshTTLHours: 720,
			BcryptCost:      10,
		},
		Redis: RedisConfig{
			Addr: "", // Single-node by default
		},
		Leaderboard: LeaderboardConfig{
			DefaultLimit: 100,
			MaxLimit:     500,
		},
		Janitor: JanitorConfig{
			IntervalMs:           15000,
			CheckpointIntervalMs: 300000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from TYPERANK_CONFIG, falling back to the
// default path.
func Load() (*Config, error) {
	if path := os.Getenv("TYPERANK_CONFIG"); path != "" {
		return LoadFromFile(path)
	}
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			cfg.clamp()
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables override config file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TYPERANK_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TYPERANK_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("TYPERANK_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("TYPERANK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("TYPERANK_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.BcryptCost = n
		}
	}
	if v := os.Getenv("TYPERANK_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Log.Level = v
		}
	}
	if v := os.Getenv("TYPERANK_LOG_FORMAT"); v != "" {
		if isValidLogFormat(v) {
			c.Log.Format = v
		}
	}
	if v := os.Getenv("TYPERANK_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
}

// Validate checks enum fields and rejects values that cannot be clamped
// into something serviceable. Out-of-range numeric values are fixed by
// clamp with a warning; validation never rejects those.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	if !isValidLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be text or json (got: %s)", c.Log.Format)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	c.clamp()
	return nil
}

// clamp fixes out-of-range numeric values by falling back to defaults or
// clamping, logging a warning for each. Runs before slog is configured,
// hence the stdlib logger.
func (c *Config) clamp() {
	defaults := DefaultConfig()

	warn := func(field, msg string) {
		log.Printf("WARN config: %s: %s", field, msg)
	}

	intFloors := []struct {
		name string
		val  *int
		min  int
		def  int
	}{
		{"server.shutdown_timeout_ms", &c.Server.ShutdownTimeoutMs, 1, defaults.Server.ShutdownTimeoutMs},
		{"server.max_body_bytes", &c.Server.MaxBodyBytes, 1024, defaults.Server.MaxBodyBytes},
		{"database.busy_timeout_ms", &c.Database.BusyTimeoutMs, 1, defaults.Database.BusyTimeoutMs},
		{"auth.access_ttl_mins", &c.Auth.AccessTTLMins, 1, defaults.Auth.AccessTTLMins},
		{"auth.refresh_ttl_hours", &c.Auth.RefreshTTLHours, 1, defaults.Auth.RefreshTTLHours},
		{"leaderboard.default_limit", &c.Leaderboard.DefaultLimit, 1, defaults.Leaderboard.DefaultLimit},
		{"janitor.interval_ms", &c.Janitor.IntervalMs, 1000, defaults.Janitor.IntervalMs},
		{"janitor.checkpoint_interval_ms", &c.Janitor.CheckpointIntervalMs, 1000, defaults.Janitor.CheckpointIntervalMs},
	}
	for _, f := range intFloors {
		if *f.val < f.min {
			warn(f.name, fmt.Sprintf("must be >= %d, got %d; falling back to default %d", f.min, *f.val, f.def))
			*f.val = f.def
		}
	}

	// Bcrypt cost outside the library's range would make every login fail.
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		warn("auth.bcrypt_cost", fmt.Sprintf("must be in [4, 31], got %d; falling back to default %d", c.Auth.BcryptCost, defaults.Auth.BcryptCost))
		c.Auth.BcryptCost = defaults.Auth.BcryptCost
	}

	// The storage layer caps leaderboard reads at 500 rows.
	if c.Leaderboard.MaxLimit < 1 || c.Leaderboard.MaxLimit > 500 {
		warn("leaderboard.max_limit", fmt.Sprintf("must be in [1, 500], got %d; falling back to default %d", c.Leaderboard.MaxLimit, defaults.Leaderboard.MaxLimit))
		c.Leaderboard.MaxLimit = defaults.Leaderboard.MaxLimit
	}
	if c.Leaderboard.DefaultLimit > c.Leaderboard.MaxLimit {
		warn("leaderboard.default_limit", fmt.Sprintf("must be <= max_limit (%d), got %d; clamping", c.Leaderboard.MaxLimit, c.Leaderboard.DefaultLimit))
		c.Leaderboard.DefaultLimit = c.Leaderboard.MaxLimit
	}
}

// ParseLogLevel maps a config log level name to its slog level. Unknown
// names fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
