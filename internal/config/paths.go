package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName is the application directory name used across all platforms.
const appName = "foliosync"

// configFileName is the config file name within DefaultConfigDir.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/foliosync).
// On macOS, uses ~/Library/Application Support/foliosync per Apple guidelines.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither FOLIOSYNC_CONFIG nor --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultSyncDir returns the platform-specific default sync root, used when
// a first-run config is created without an explicit --sync-dir.
func DefaultSyncDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "foliosync"
	}

	return filepath.Join(home, "FolioSync")
}

// pidFileName is the daemon lock/PID file within a sync root's metadata dir.
const pidFileName = "daemon.pid"

// syncMetaDirName mirrors internal/sync's syncMetaDir constant without
// importing that package (config must stay leaf-level in the dependency
// graph).
const syncMetaDirName = ".sync-meta"

// PIDFilePath returns the daemon PID/lock file path for a given sync root.
// Each sync root gets its own PID file, so a second `sync --watch` against
// a different directory is not blocked by an unrelated running daemon.
func PIDFilePath(syncDir string) string {
	return filepath.Join(syncDir, syncMetaDirName, pidFileName)
}
