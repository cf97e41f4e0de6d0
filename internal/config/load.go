package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// CLIOverrides holds values the caller explicitly set via command-line
// flags, which take precedence over both the file and the environment.
type CLIOverrides struct {
	ConfigPath string
	SyncDir    string
	APIKey     string
}

// Load reads the TOML file at path. A missing file is not an error: it
// returns the built-in defaults (defaultConfig) so a first run can proceed and later be
// persisted with CreateDefault/Save.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Resolve applies the three-layer override chain (file < env < CLI) and
// fills in any value still missing with a generated default, persisting the
// result back to disk when it gained a new device id or sync dir so the
// next run doesn't need to regenerate it.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := cli.ConfigPath
	if path == "" {
		path = env.ConfigPath
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	dirty := false

	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
		dirty = true

		logger.Info("config: generated device id", slog.String("device_id", cfg.Device.ID))
	}

	syncDir := cfg.Sync.SyncDir
	if env.SyncDir != "" {
		syncDir = env.SyncDir
	}

	if cli.SyncDir != "" {
		syncDir = cli.SyncDir
	}

	if syncDir == "" {
		syncDir = DefaultSyncDir()
		cfg.Sync.SyncDir = syncDir
		dirty = true
	}

	apiKey := cfg.Server.APIKey
	if env.APIKey != "" {
		apiKey = env.APIKey
	}

	if cli.APIKey != "" {
		apiKey = cli.APIKey
	}

	if dirty && path != "" {
		cfg.Sync.SyncDir = syncDir
		if err := Save(path, cfg); err != nil {
			logger.Warn("config: failed to persist resolved defaults", slog.Any("error", err))
		}
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	paused, pausedUntil := effectivePauseState(cfg.Pause, logger)

	// A pause window that has already elapsed clears itself on next resolve,
	// so a stale paused_until doesn't silently keep the engine paused forever.
	if cfg.Pause.Paused && !paused {
		cfg.Pause = PauseConfig{}

		if saveErr := Save(path, cfg); saveErr != nil {
			logger.Warn("config: failed to clear expired pause", slog.Any("error", saveErr))
		}
	}

	resolved := &ResolvedConfig{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Username:    cfg.Server.Username,
		SyncDir:     syncDir,
		DeviceID:    cfg.Device.ID,
		LogLevel:    cfg.Logging.Level,
		LogFormat:   cfg.Logging.Format,
		Debounce:    millisOrDefault(cfg.Sync.DebounceMillis, DefaultDebounceMillis),
		DeleteGrace: millisOrDefault(cfg.Sync.DeleteGraceMillis, DefaultDeleteGraceMillis),
		SnapshotTTL: secondsOrDefault(cfg.Sync.SnapshotTTLSeconds, DefaultSnapshotTTLSeconds),
		MaxRetries:  intOrDefault(cfg.Sync.MaxRetries, DefaultMaxRetries),
		ConfigPath:  path,
		Paused:      paused,
		PausedUntil: pausedUntil,
	}

	return resolved, nil
}

// effectivePauseState interprets the persisted pause section: an expired
// paused_until means the pause no longer applies.
func effectivePauseState(p PauseConfig, logger *slog.Logger) (bool, time.Time) {
	if !p.Paused {
		return false, time.Time{}
	}

	if p.PausedUntil == "" {
		return true, time.Time{}
	}

	until, err := time.Parse(time.RFC3339, p.PausedUntil)
	if err != nil {
		logger.Warn("config: invalid paused_until, treating as indefinite pause", slog.Any("error", err))

		return true, time.Time{}
	}

	if time.Now().After(until) {
		return false, time.Time{}
	}

	return true, until
}

// SetPaused persists the paused flag (and optional until deadline) for path,
// used by the `pause`/`resume` commands. until is formatted as RFC3339; pass
// the zero time to pause indefinitely or to clear the deadline on resume.
func SetPaused(path string, paused bool, until time.Time) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}

	cfg.Pause.Paused = paused

	if until.IsZero() {
		cfg.Pause.PausedUntil = ""
	} else {
		cfg.Pause.PausedUntil = until.Format(time.RFC3339)
	}

	return Save(path, cfg)
}

func millisOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}

	return time.Duration(v) * time.Millisecond
}

func secondsOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}

	return time.Duration(v) * time.Second
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}
