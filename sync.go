package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foliosync/foliosync/internal/config"
	syncpkg "github.com/foliosync/foliosync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local directory with the content service",
		Long: `Run one reconcile cycle against the content service: download new or
changed sites and uploads, push local changes, and resolve offline moves,
renames, and deletes.

With --watch, stays running and keeps the directory synchronized using a
filesystem watcher and the server's live-sync stream instead of exiting
after one cycle.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("download-only", false, "only pull server changes, never push local changes")
	cmd.Flags().Bool("upload-only", false, "only push local changes, never pull server changes")
	cmd.Flags().Bool("dry-run", false, "report what would change without writing to disk or the server")
	cmd.Flags().Bool("force", false, "bypass the future-dated/local-newer protection and re-sync anyway")
	cmd.Flags().Bool("watch", false, "run continuously as a daemon instead of exiting after one cycle")

	cmd.MarkFlagsMutuallyExclusive("download-only", "upload-only")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.APIKey == "" {
		return fmt.Errorf("not logged in — run 'foliosync login' first")
	}

	downloadOnly, _ := cmd.Flags().GetBool("download-only")
	uploadOnly, _ := cmd.Flags().GetBool("upload-only")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	watch, _ := cmd.Flags().GetBool("watch")

	mode := syncpkg.ModeFull
	if downloadOnly {
		mode = syncpkg.ModeDownloadOnly
	} else if uploadOnly {
		mode = syncpkg.ModeUploadOnly
	}

	opts := syncpkg.ReconcileOptions{Mode: mode, DryRun: dryRun, Force: force}

	if cc.Cfg.Paused && !force {
		cc.Statusf("sync is paused — run 'foliosync resume' or pass --force\n")

		return nil
	}

	client := newAPIClient(cc.Cfg, cc.Logger)
	engine := syncpkg.NewEngine(cc.Cfg.SyncDir, cc.Cfg.DeviceID, client, nil, cc.Logger)

	if watch {
		return runWatch(cmd.Context(), cc, engine)
	}

	report, err := engine.RunOnce(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	printSyncReport(cc, report)

	return nil
}

// runWatch starts the daemon: acquires the PID lock, launches the engine's
// background subsystems, and blocks until a shutdown signal arrives.
func runWatch(ctx context.Context, cc *CLIContext, engine *syncpkg.Engine) error {
	pidPath := config.PIDFilePath(cc.Cfg.SyncDir)

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}

	defer cleanup()

	runCtx := shutdownContext(ctx, cc.Logger)

	if err := engine.Start(runCtx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	cc.Logger.Info("sync daemon started",
		slog.String("sync_dir", cc.Cfg.SyncDir),
		slog.String("device_id", cc.Cfg.DeviceID))
	cc.Statusf("Watching %s (Ctrl-C to stop)\n", cc.Cfg.SyncDir)

	<-runCtx.Done()

	cc.Logger.Info("sync daemon stopping")
	engine.Close()

	return nil
}

// syncReportOutput is the JSON schema for `sync --json`.
type syncReportOutput struct {
	Mode    string        `json:"mode"`
	Elapsed string        `json:"elapsed"`
	Stats   syncpkg.Stats `json:"stats"`
	Errors  []string      `json:"errors,omitempty"`
}

func printSyncReport(cc *CLIContext, report syncpkg.SyncReport) {
	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(syncReportOutput{
			Mode:    report.Mode,
			Elapsed: report.Elapsed.Round(time.Millisecond).String(),
			Stats:   report.Stats,
			Errors:  report.Errors,
		})

		return
	}

	fmt.Printf("Sync (%s) completed in %s\n", report.Mode, report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  downloaded: %d (skipped %d)\n", report.Stats.FilesDownloaded, report.Stats.FilesDownloadedSkipped)
	fmt.Printf("  uploaded:   %d\n", report.Stats.FilesUploaded)
	fmt.Printf("  moved:      %d\n", report.Stats.FilesMoved)
	fmt.Printf("  renamed:    %d\n", report.Stats.FilesRenamed)
	fmt.Printf("  deleted:    %d\n", report.Stats.FilesDeleted)
	fmt.Printf("  protected:  %d\n", report.Stats.FilesProtected)

	if report.Stats.DuplicateFilenames > 0 {
		fmt.Printf("  duplicate filenames skipped: %d\n", report.Stats.DuplicateFilenames)
	}

	if report.Stats.Errors > 0 {
		fmt.Printf("  errors:     %d\n", report.Stats.Errors)

		for _, e := range report.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
}
