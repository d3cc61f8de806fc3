package server

import (
	"fmt"
	"os"
	"runtime"
)

// ErrRunningAsRoot is returned when the server detects it is running as root.
var ErrRunningAsRoot = fmt.Errorf("refusing to run as root (UID 0): running the typerank server as root is a security risk")

// CheckNotRoot verifies the server is not running as root (effective UID 0).
// Returns nil if not root, ErrRunningAsRoot if running with effective root privileges.
// On Windows, this check is skipped.
func CheckNotRoot() error {
	if runtime.GOOS == "windows" {
		return nil
	}

	if os.Geteuid() == 0 {
		return ErrRunningAsRoot
	}

	return nil
}

// EnsureSecureDirectory creates a directory with mode 0o700 if it doesn't exist,
// or tightens permissions if it does. The data directory holds the contest
// database and the signing secret's config file, so nothing but the owner
// may read it.
func EnsureSecureDirectory(dirPath string) error {
	if runtime.GOOS == "windows" {
		return os.MkdirAll(dirPath, 0o700)
	}

	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirPath, 0o700)
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}

	perm := info.Mode().Perm()
	if perm != 0o700 {
		if err := os.Chmod(dirPath, 0o700); err != nil { //nolint:gosec // G302: 0700 is appropriate for the data directory
			return fmt.Errorf("failed to fix permissions on %s: %w", dirPath, err)
		}
	}

	return nil
}
