// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for foliosync.
package config

import "time"

// Config is the top-level configuration structure for a single sync profile.
// Unlike a multi-drive client, foliosync manages exactly one sync root per
// profile: the spec's single-user, single-root precondition rules out the
// per-drive section layout this package is descended from.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Device  DeviceConfig  `toml:"device"`
	Logging LoggingConfig `toml:"logging"`
	Pause   PauseConfig   `toml:"pause"`
}

// ServerConfig holds the remote content service's connection details.
type ServerConfig struct {
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	Username string `toml:"username"`
}

// SyncConfig controls the engine's sync root and timing knobs.
type SyncConfig struct {
	SyncDir            string `toml:"sync_dir"`
	DebounceMillis      int    `toml:"debounce_ms"`
	DeleteGraceMillis   int    `toml:"delete_grace_ms"`
	SnapshotTTLSeconds  int    `toml:"snapshot_ttl_seconds"`
	MaxRetries          int    `toml:"max_retries"`
}

// DeviceConfig identifies this installation for live-sync echo suppression.
type DeviceConfig struct {
	ID string `toml:"id"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PauseConfig persists the paused/resume state set by `pause`/`resume`.
// PausedUntil is an RFC3339 timestamp; empty means paused indefinitely.
type PauseConfig struct {
	Paused      bool   `toml:"paused"`
	PausedUntil string `toml:"paused_until"`
}

// ResolvedConfig is the fully merged configuration (file < env < CLI flags)
// ready for the engine to consume.
type ResolvedConfig struct {
	BaseURL            string
	APIKey             string
	Username           string
	SyncDir            string
	DeviceID           string
	LogLevel           string
	LogFormat          string
	Debounce           time.Duration
	DeleteGrace        time.Duration
	SnapshotTTL        time.Duration
	MaxRetries         int
	ConfigPath         string
	Paused             bool
	PausedUntil        time.Time
}

// DefaultBaseURL is used when no server.base_url is configured.
const DefaultBaseURL = "https://app.example-content-service.invalid"
