package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliosync/foliosync/internal/config"
)

// resetGlobalFlags restores the package-level flag vars buildLogger reads,
// so tests don't leak state into one another.
func resetGlobalFlags(t *testing.T) {
	t.Helper()

	flagVerbose, flagDebug, flagQuiet = false, false, false
	t.Cleanup(func() { flagVerbose, flagDebug, flagQuiet = false, false, false })
}

func TestBuildLogger_Default(t *testing.T) {
	resetGlobalFlags(t)

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_Verbose(t *testing.T) {
	resetGlobalFlags(t)
	flagVerbose = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Debug(t *testing.T) {
	resetGlobalFlags(t)
	flagDebug = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	resetGlobalFlags(t)

	cfg := &config.ResolvedConfig{LogLevel: "debug"}
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	resetGlobalFlags(t)
	flagVerbose = true

	cfg := &config.ResolvedConfig{LogLevel: "error"}
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesConfig(t *testing.T) {
	resetGlobalFlags(t)
	flagQuiet = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestCliContextFrom_NilContext(t *testing.T) {
	t.Parallel()

	cc := cliContextFrom(context.Background())
	assert.Nil(t, cc)
}

func TestCliContextFrom_WithCLIContext(t *testing.T) {
	t.Parallel()

	expected := &CLIContext{
		Cfg:    &config.ResolvedConfig{SyncDir: "/test"},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := cliContextFrom(ctx)
	assert.Equal(t, expected, cc)
	assert.Equal(t, "/test", cc.Cfg.SyncDir)
}

func TestMustCLIContext_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestMustCLIContext_Returns(t *testing.T) {
	t.Parallel()

	expected := &CLIContext{Cfg: &config.ResolvedConfig{SyncDir: "/must-test"}}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := mustCLIContext(ctx)
	assert.Equal(t, expected, cc)
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	expected := []string{"login", "logout", "whoami", "status", "config", "pause", "resume", "sync"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	for _, name := range []string{"config", "sync-dir", "api-key", "json", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	t.Parallel()

	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(flags, "status"))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestAnnotationBasedSkipConfig(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	for _, name := range []string{"login", "logout", "whoami", "status", "pause", "resume"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)

		assert.Equal(t, "true", sub.Annotations[skipConfigAnnotation],
			"command %q should have skipConfig annotation", sub.CommandPath())
	}

	for _, name := range []string{"sync"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)

		assert.Empty(t, sub.Annotations[skipConfigAnnotation],
			"command %q should NOT have skipConfig annotation", sub.CommandPath())
	}
}

func TestDefaultHTTPClient_HasTimeout(t *testing.T) {
	t.Parallel()

	client := defaultHTTPClient()
	assert.Equal(t, httpClientTimeout, client.Timeout)
}

func TestCLIContext_Statusf_Quiet(t *testing.T) {
	t.Parallel()

	cc := &CLIContext{Flags: cliFlags{Quiet: true}}
	cc.Statusf("should not appear: %d\n", 42)
}

func TestCLIContext_Statusf_Normal(t *testing.T) {
	t.Parallel()

	cc := &CLIContext{Flags: cliFlags{Quiet: false}}
	cc.Statusf("status message: %s\n", "ok")
}
