package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate documents every setting as a commented-out default so a
// user can discover every option without reading docs.
const configTemplate = `# foliosync configuration

[server]
# base_url = "https://your-content-service"
# api_key = ""
# username = ""

[sync]
# sync_dir = ""
# debounce_ms = 500
# delete_grace_ms = 500
# snapshot_ttl_seconds = 30
# max_retries = 3

[device]
# id is generated automatically on first run and should not be edited;
# changing it causes live-sync echoes from this installation to no longer
# be suppressed.
# id = ""

[logging]
# level = "info"
# format = "text"
`

// Save writes cfg to path atomically (temp file + fsync + rename), creating
// parent directories as needed. A save failure never leaves a partially
// written config file behind.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// CreateDefault writes the documented config template to path if no file
// exists yet. Used on first run.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	slog.Info("config: creating default file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to path via a same-directory temp file,
// fsync, chmod, and rename, so a crash mid-write never corrupts the
// previous contents.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("config: writing temp file: %w", err)
	}

	// Flush data to disk before rename; rename alone is metadata-only on
	// POSIX and a power loss right after it could leave the file empty.
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("config: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file into place: %w", err)
	}

	succeeded = true

	return nil
}
