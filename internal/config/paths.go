// Package config provides configuration management for the typerank server.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds the filesystem layout for typerank state.
type Paths struct {
	// Root is the directory holding the database, lock file, and default
	// config file (~/.typerank unless TYPERANK_HOME overrides it).
	Root string
}

// DefaultPaths returns the default paths. TYPERANK_HOME overrides the
// root for deployments that keep state elsewhere.
func DefaultPaths() *Paths {
	if root := os.Getenv("TYPERANK_HOME"); root != "" {
		return &Paths{Root: root}
	}
	return &Paths{Root: filepath.Join(homeDir(), ".typerank")}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.Root, "typerankd.yaml")
}

// DatabaseFile returns the path to the SQLite database.
func (p *Paths) DatabaseFile() string {
	return filepath.Join(p.Root, "typerank.db")
}

// LockFile returns the path to the daemon lock file.
func (p *Paths) LockFile() string {
	return filepath.Join(p.Root, "typerankd.lock")
}

// EnsureDirectories creates the root directory if needed.
func (p *Paths) EnsureDirectories() error {
	return os.MkdirAll(p.Root, 0o755)
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}
