package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foliosync/foliosync/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing after a pause",
		Long: `Clear the paused flag set by 'foliosync pause'. If a sync --watch
daemon is running, it receives a SIGHUP to pick up the change.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, SyncDir: flagSyncDir, APIKey: flagAPIKey}

	resolved, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := config.SetPaused(resolved.ConfigPath, false, time.Time{}); err != nil {
		return fmt.Errorf("clearing paused flag: %w", err)
	}

	statusf(flagQuiet, "Sync resumed\n")

	notifyDaemon(resolved.SyncDir, flagQuiet)

	return nil
}
