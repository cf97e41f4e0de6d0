package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.APIKey)
}

func TestLoad_ValidTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[server]\nbase_url = \"https://svc.example\"\napi_key = \"secret\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://svc.example", cfg.Server.BaseURL)
	assert.Equal(t, "secret", cfg.Server.APIKey)
}

func TestLoad_InvalidTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("{{not toml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolve_GeneratesDeviceIDAndSyncDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")

	resolved, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.NotEmpty(t, resolved.DeviceID)
	assert.NotEmpty(t, resolved.SyncDir)

	// The generated device id and sync dir must be persisted for next run.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, resolved.DeviceID, cfg.Device.ID)
}

func TestResolve_CLIOverridesTakePrecedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{Server: ServerConfig{APIKey: "file-key"}}))

	resolved, err := Resolve(
		EnvOverrides{APIKey: "env-key"},
		CLIOverrides{ConfigPath: path, APIKey: "cli-key"},
		discardLogger(),
	)
	require.NoError(t, err)
	assert.Equal(t, "cli-key", resolved.APIKey)
}

func TestResolve_EnvOverridesFileButNotCLI(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{Server: ServerConfig{APIKey: "file-key"}}))

	resolved, err := Resolve(EnvOverrides{APIKey: "env-key"}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "env-key", resolved.APIKey)
}

func TestResolve_DefaultBaseURL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")

	resolved, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, resolved.BaseURL)
}

func TestResolve_ActivePause(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	until := time.Now().Add(time.Hour)
	require.NoError(t, Save(path, Config{Pause: PauseConfig{Paused: true, PausedUntil: until.Format(time.RFC3339)}}))

	resolved, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.True(t, resolved.Paused)
	assert.WithinDuration(t, until, resolved.PausedUntil, time.Second)
}

func TestResolve_ExpiredPauseAutoClears(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, Save(path, Config{Pause: PauseConfig{Paused: true, PausedUntil: past.Format(time.RFC3339)}}))

	resolved, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.False(t, resolved.Paused)

	// The clear must be persisted, not just reflected in the returned value.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Pause.Paused)
}

func TestResolve_IndefinitePause(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{Pause: PauseConfig{Paused: true}}))

	resolved, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	require.NoError(t, err)
	assert.True(t, resolved.Paused)
	assert.True(t, resolved.PausedUntil.IsZero())
}

func TestEffectivePauseState_NotPaused(t *testing.T) {
	t.Parallel()

	paused, until := effectivePauseState(PauseConfig{}, discardLogger())
	assert.False(t, paused)
	assert.True(t, until.IsZero())
}

func TestEffectivePauseState_InvalidTimestamp(t *testing.T) {
	t.Parallel()

	paused, until := effectivePauseState(PauseConfig{Paused: true, PausedUntil: "not-a-time"}, discardLogger())
	assert.True(t, paused)
	assert.True(t, until.IsZero())
}

func TestSetPaused_Indefinite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{}))

	require.NoError(t, SetPaused(path, true, time.Time{}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Pause.Paused)
	assert.Empty(t, cfg.Pause.PausedUntil)
}

func TestSetPaused_WithDeadline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{}))

	until := time.Now().Add(2 * time.Hour)
	require.NoError(t, SetPaused(path, true, until))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Pause.Paused)
	assert.Equal(t, until.Format(time.RFC3339), cfg.Pause.PausedUntil)
}

func TestSetPaused_Clear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{Pause: PauseConfig{Paused: true, PausedUntil: time.Now().Format(time.RFC3339)}}))

	require.NoError(t, SetPaused(path, false, time.Time{}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Pause.Paused)
	assert.Empty(t, cfg.Pause.PausedUntil)
}

func TestMillisOrDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 500*time.Millisecond, millisOrDefault(0, 500))
	assert.Equal(t, 250*time.Millisecond, millisOrDefault(250, 500))
}

func TestIntOrDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, intOrDefault(0, 3))
	assert.Equal(t, 5, intOrDefault(5, 3))
}
