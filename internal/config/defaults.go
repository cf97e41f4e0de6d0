package config

// Default timing values, mirroring the design notes' open-question decision
// to keep the reference implementation's grace-window and debounce values
// unless a platform's watcher proves they need tuning.
const (
	DefaultDebounceMillis     = 500
	DefaultDeleteGraceMillis  = 500
	DefaultSnapshotTTLSeconds = 30
	DefaultMaxRetries         = 3
)

// defaultConfig returns a Config populated with the above defaults, used
// whenever a loaded file omits a [sync] field.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: DefaultBaseURL,
		},
		Sync: SyncConfig{
			DebounceMillis:     DefaultDebounceMillis,
			DeleteGraceMillis:  DefaultDeleteGraceMillis,
			SnapshotTTLSeconds: DefaultSnapshotTTLSeconds,
			MaxRetries:         DefaultMaxRetries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
