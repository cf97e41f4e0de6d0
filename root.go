package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/foliosync/foliosync/internal/apiclient"
	"github.com/foliosync/foliosync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in setupRootCmd().
var (
	flagConfigPath string
	flagSyncDir    string
	flagAPIKey     string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves.
// Commands annotated with this key skip the automatic override-chain
// resolution in PersistentPreRunE.
const skipConfigAnnotation = "skipConfig"

// cliFlags captures the subset of global flags a command needs without
// threading each one through individually.
type cliFlags struct {
	JSON    bool
	Quiet   bool
	Verbose bool
	Debug   bool
}

// CLIContext bundles resolved config and logger. Created once in
// PersistentPreRunE; eliminates redundant buildLogger calls in RunE handlers.
type CLIContext struct {
	Cfg     *config.ResolvedConfig
	CfgPath string
	Logger  *slog.Logger
	Flags   cliFlags
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
// Returns nil if no config was loaded (e.g., auth commands that skip config).
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable message.
// Panics are always programmer errors — the command tree should guarantee
// the context is populated by PersistentPreRunE before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation) or " +
			"explicitly loads config in its RunE")
	}

	return cc
}

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newAPIClient creates an apiclient.Client wired to the resolved server
// config. Every command that talks to the content service goes through here
// so the base URL, API key, and logger stay in one place.
func newAPIClient(cfg *config.ResolvedConfig, logger *slog.Logger) *apiclient.Client {
	return apiclient.New(cfg.BaseURL, cfg.APIKey, defaultHTTPClient(), logger)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "foliosync",
		Short:   "Bidirectional sync client for the content service",
		Long:    "foliosync keeps a local directory synchronized with sites and uploads on a remote content service.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration before every command. Commands
		// annotated with skipConfigAnnotation handle config access themselves.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSyncDir, "sync-dir", "", "sync root directory")
	cmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "content service API key")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (HTTP requests, config resolution)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newSyncCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in the command's context for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	// Bootstrap logger derived from CLI flags only (config doesn't exist yet).
	logger := buildLogger(nil)

	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		SyncDir:    flagSyncDir,
		APIKey:     flagAPIKey,
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving config",
		slog.String("config_path", cli.ConfigPath),
		slog.String("cli_sync_dir", cli.SyncDir),
		slog.String("env_config", env.ConfigPath),
		slog.String("env_sync_dir", env.SyncDir),
	)

	resolved, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("sync_dir", resolved.SyncDir),
		slog.String("base_url", resolved.BaseURL),
		slog.String("device_id", resolved.DeviceID),
	)

	// Build the final logger incorporating config-file log level.
	finalLogger := buildLogger(resolved)
	cc := &CLIContext{
		Cfg:     resolved,
		CfgPath: resolved.ConfigPath,
		Logger:  finalLogger,
		Flags: cliFlags{
			JSON:    flagJSON,
			Quiet:   flagQuiet,
			Verbose: flagVerbose,
			Debug:   flagDebug,
		},
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for pre-config bootstrap (no config-file log level).
// Config-file log level provides the baseline; --verbose, --debug, and --quiet
// override it because CLI flags always win. The flags are mutually exclusive
// (enforced by Cobra).
func buildLogger(cfg *config.ResolvedConfig) *slog.Logger {
	level := slog.LevelWarn

	// Config-based log level (lower priority than CLI flags).
	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	// Only colorize when stderr is an actual terminal: a redirected or
	// piped stream gets plain text so log files and `| grep` stay clean.
	if isatty.IsTerminal(os.Stderr.Fd()) {
		opts.ReplaceAttr = colorizeLevel
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// colorizeLevel wraps the level attribute's value in an ANSI color code
// keyed to severity.
func colorizeLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}

	level, _ := a.Value.Any().(slog.Level)

	code := "\x1b[36m" // cyan: debug/info

	switch {
	case level >= slog.LevelError:
		code = "\x1b[31m" // red
	case level >= slog.LevelWarn:
		code = "\x1b[33m" // yellow
	}

	return slog.String(slog.LevelKey, code+a.Value.String()+"\x1b[0m")
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
