package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != ":8480" {
		t.Errorf("Expected addr=:8480, got %s", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeoutMs != 10000 {
		t.Errorf("Expected shutdown_timeout_ms=10000, got %d", cfg.Server.ShutdownTimeoutMs)
	}
	if cfg.Database.BusyTimeoutMs != 5000 {
		t.Errorf("Expected busy_timeout_ms=5000, got %d", cfg.Database.BusyTimeoutMs)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Error("Expected empty jwt_secret by default")
	}
	if cfg.Auth.AccessTTLMins != 15 {
		t.Errorf("Expected access_ttl_mins=15, got %d", cfg.Auth.AccessTTLMins)
	}
	if cfg.Auth.RefreshTTLHours != 720 {
		t.Errorf("Expected refresh_ttl_hours=720, got %d", cfg.Auth.RefreshTTLHours)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Errorf("Expected bcrypt_cost=10, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Redis.Addr != "" {
		t.Error("Expected redis disabled by default")
	}
	if cfg.Leaderboard.DefaultLimit != 100 || cfg.Leaderboard.MaxLimit != 500 {
		t.Errorf("Expected leaderboard limits 100/500, got %d/%d", cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.MaxLimit)
	}
	if cfg.Janitor.IntervalMs != 15000 {
		t.Errorf("Expected janitor interval_ms=15000, got %d", cfg.Janitor.IntervalMs)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Expected log info/text, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadFromFile_NonExistent(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/typerankd.yaml")
	if err != nil {
		t.Fatalf("LoadFromFile should return defaults for nonexistent file: %v", err)
	}
	if cfg.Server.Addr != ":8480" {
		t.Errorf("Expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "typerankd.yaml")
	if err := os.WriteFile(configFile, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(configFile); err == nil {
		t.Error("LoadFromFile should have returned an error for invalid YAML")
	}
}

func TestLoadFromFile_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "typerankd.yaml")
	content := `server:
  addr: "127.0.0.1:9000"
auth:
  jwt_secret: "sekrit"
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Expected addr from file, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "sekrit" {
		t.Errorf("Expected jwt_secret from file, got %s", cfg.Auth.JWTSecret)
	}
	// Unspecified fields keep their defaults.
	if cfg.Auth.AccessTTLMins != 15 {
		t.Errorf("Expected default access_ttl_mins, got %d", cfg.Auth.AccessTTLMins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level, got %s", cfg.Log.Level)
	}
}

func TestLoadFromFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "typerankd.yaml")
	if err := os.WriteFile(configFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed for empty file: %v", err)
	}
	if cfg.Server.Addr != ":8480" {
		t.Errorf("Expected defaults for empty file, got addr %s", cfg.Server.Addr)
	}
}

func TestLoadFromFile_ReadError(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "actually-a-directory")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(subDir); err == nil {
		t.Error("LoadFromFile should have returned an error when reading a directory")
	}
}

func TestLoadFromFile_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "typerankd.yaml")
	if err := os.WriteFile(configFile, []byte("log:\n  level: verbose\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFromFile(configFile)
	if err == nil {
		t.Fatal("LoadFromFile should reject an unknown log level")
	}
	if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("Expected log.level in error, got: %v", err)
	}
}

func TestLoadFromFile_ClampsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "typerankd.yaml")
	content := `server:
  shutdown_timeout_ms: -5
auth:
  bcrypt_cost: 2
leaderboard:
  default_limit: 9999
  max_limit: 600
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.ShutdownTimeoutMs != 10000 {
		t.Errorf("Expected clamped shutdown_timeout_ms=10000, got %d", cfg.Server.ShutdownTimeoutMs)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Errorf("Expected clamped bcrypt_cost=10, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Leaderboard.MaxLimit != 500 {
		t.Errorf("Expected clamped max_limit=500, got %d", cfg.Leaderboard.MaxLimit)
	}
	if cfg.Leaderboard.DefaultLimit != 500 {
		t.Errorf("Expected default_limit clamped to max_limit, got %d", cfg.Leaderboard.DefaultLimit)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TYPERANK_ADDR", "0.0.0.0:9999")
	t.Setenv("TYPERANK_JWT_SECRET", "from-env")
	t.Setenv("TYPERANK_REDIS_ADDR", "localhost:6379")
	t.Setenv("TYPERANK_BCRYPT_COST", "12")
	t.Setenv("TYPERANK_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Addr != "0.0.0.0:9999" {
		t.Errorf("Expected addr from env, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Expected jwt_secret from env, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected redis addr from env, got %s", cfg.Redis.Addr)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("Expected bcrypt_cost from env, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level from env, got %s", cfg.Log.Level)
	}
}

func TestApplyEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("TYPERANK_LOG_LEVEL", "verbose")
	t.Setenv("TYPERANK_BCRYPT_COST", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Log.Level != "info" {
		t.Errorf("Invalid env log level should be ignored, got %s", cfg.Log.Level)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Errorf("Invalid env bcrypt cost should be ignored, got %d", cfg.Auth.BcryptCost)
	}
}

func TestApplyEnvOverrides_DebugWins(t *testing.T) {
	t.Setenv("TYPERANK_LOG_LEVEL", "error")
	t.Setenv("TYPERANK_DEBUG", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Log.Level != "debug" {
		t.Errorf("TYPERANK_DEBUG should force debug level, got %s", cfg.Log.Level)
	}
}

func TestLoad_UsesConfigEnvPath(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(configFile, []byte("server:\n  addr: \":7777\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TYPERANK_CONFIG", configFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("Expected addr from TYPERANK_CONFIG file, got %s", cfg.Server.Addr)
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "nested", "typerankd.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:8123"
	cfg.Auth.JWTSecret = "round-trip"
	cfg.Redis.Addr = "redis:6379"

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Server.Addr != "127.0.0.1:8123" {
		t.Errorf("Expected saved addr, got %s", loaded.Server.Addr)
	}
	if loaded.Auth.JWTSecret != "round-trip" {
		t.Errorf("Expected saved jwt_secret, got %s", loaded.Auth.JWTSecret)
	}
	if loaded.Redis.Addr != "redis:6379" {
		t.Errorf("Expected saved redis addr, got %s", loaded.Redis.Addr)
	}
}
