package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testHome = "/home/testuser"

func TestDefaultConfigDir_NonEmpty(t *testing.T) {
	t.Parallel()

	dir := DefaultConfigDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, appName)
}

func TestDefaultConfigPath_EndsWithConfigToml(t *testing.T) {
	t.Parallel()

	path := DefaultConfigPath()
	assert.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, "config.toml"))
}

func TestDefaultConfigDir_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	dir := DefaultConfigDir()
	assert.Contains(t, dir, "Library/Application Support")
}

func TestLinuxConfigDir_XDGOverride(t *testing.T) {
	xdgDir := "/custom/config"

	t.Setenv("XDG_CONFIG_HOME", xdgDir)
	result := linuxConfigDir(testHome)
	assert.Equal(t, filepath.Join(xdgDir, appName), result)
}

func TestLinuxConfigDir_DefaultFallback(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	os.Unsetenv("XDG_CONFIG_HOME")
	result := linuxConfigDir(testHome)
	assert.Equal(t, filepath.Join(testHome, ".config", appName), result)
}

func TestDefaultSyncDir_NonEmpty(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, DefaultSyncDir())
}

func TestPIDFilePath(t *testing.T) {
	t.Parallel()

	got := PIDFilePath("/srv/sync")
	assert.Equal(t, filepath.Join("/srv/sync", ".sync-meta", "daemon.pid"), got)
}
