package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foliosync/foliosync/internal/config"
	"github.com/foliosync/foliosync/internal/history"
	syncpkg "github.com/foliosync/foliosync/internal/sync"
)

// defaultHistoryCount is how many rows `status --history` (with no explicit
// count) prints.
const defaultHistoryCount = 10

// Auth state constants for status reporting.
const (
	authStateMissing = "missing"
	authStateInvalid = "invalid"
	authStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show auth, sync, and daemon status",
		Long: `Display the current API key state, last sync time, node map size,
paused state, and whether a sync --watch daemon is running.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runStatus,
	}

	cmd.Flags().Int("history", 0, "also show the N most recent sync history entries")
	cmd.Flags().Lookup("history").NoOptDefVal = fmt.Sprintf("%d", defaultHistoryCount)

	return cmd
}

// statusReport is the JSON schema for `status --json`.
type statusReport struct {
	AuthState    string         `json:"auth_state"`
	Username     string         `json:"username,omitempty"`
	BaseURL      string         `json:"base_url"`
	SyncDir      string         `json:"sync_dir"`
	LastSyncedAt string         `json:"last_synced_at,omitempty"`
	TrackedNodes int            `json:"tracked_nodes"`
	Paused       bool           `json:"paused"`
	DaemonActive bool           `json:"daemon_active"`
	DaemonPID    int            `json:"daemon_pid,omitempty"`
	History      []historyEntry `json:"history,omitempty"`

	lastSyncedTime time.Time
}

// historyEntry is the JSON-friendly projection of a history.Mutation.
type historyEntry struct {
	At      string `json:"at"`
	Action  string `json:"action"`
	File    string `json:"file"`
	Message string `json:"message,omitempty"`

	at time.Time
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, SyncDir: flagSyncDir, APIKey: flagAPIKey}

	resolved, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	report := statusReport{
		BaseURL: resolved.BaseURL,
		SyncDir: resolved.SyncDir,
		Paused:  resolved.Paused,
	}

	if resolved.APIKey == "" {
		report.AuthState = authStateMissing
	} else {
		client := newAPIClient(resolved, logger)

		result, statusErr := client.Status(ctx)
		if statusErr != nil {
			report.AuthState = authStateInvalid
		} else {
			report.AuthState = authStateValid
			report.Username = result.Username
		}
	}

	store, state := syncpkg.Load(resolved.SyncDir, logger)
	if state.Present {
		report.lastSyncedTime = time.UnixMilli(state.LastSyncedAt)
		report.LastSyncedAt = report.lastSyncedTime.Format(time.RFC3339)
	}

	report.TrackedNodes = len(store.All())

	pidPath := config.PIDFilePath(resolved.SyncDir)
	if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
		report.DaemonActive = true
		report.DaemonPID = pid
	}

	if n, _ := cmd.Flags().GetInt("history"); n > 0 {
		report.History = loadHistory(ctx, resolved.SyncDir, n, logger)
	}

	if flagJSON {
		return printStatusJSON(report)
	}

	printStatusText(report)

	return nil
}

// loadHistory opens the supplemented mutation log, if its database file
// already exists, and returns its n most recent rows. A failure to open or query the database degrades to
// an empty slice with a warning, matching the "best-effort, never fails
// the command" posture of the history log itself (§11).
func loadHistory(ctx context.Context, syncDir string, n int, logger *slog.Logger) []historyEntry {
	dbPath := filepath.Join(syncDir, ".sync-meta", "history.db")

	if _, statErr := os.Stat(dbPath); statErr != nil {
		return nil
	}

	store, err := history.Open(dbPath, logger)
	if err != nil {
		logger.Warn("opening history database", "error", err)

		return nil
	}
	defer store.Close()

	mutations, err := store.Recent(ctx, n)
	if err != nil {
		logger.Warn("reading sync history", "error", err)

		return nil
	}

	entries := make([]historyEntry, 0, len(mutations))

	for _, m := range mutations {
		at := time.UnixMilli(m.OccurredAtMillis)
		entries = append(entries, historyEntry{
			At:      at.Format(time.RFC3339),
			Action:  m.Action,
			File:    m.File,
			Message: m.Message,
			at:      at,
		})
	}

	return entries
}

func printStatusJSON(report statusReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}

func printStatusText(report statusReport) {
	fmt.Printf("Auth:          %s", report.AuthState)

	if report.Username != "" {
		fmt.Printf(" (%s)", report.Username)
	}

	fmt.Println()

	fmt.Printf("Server:        %s\n", report.BaseURL)
	fmt.Printf("Sync dir:      %s\n", report.SyncDir)

	lastSync := "never"
	if report.LastSyncedAt != "" {
		lastSync = humanize.Time(report.lastSyncedTime)
	}

	fmt.Printf("Last synced:   %s\n", lastSync)
	fmt.Printf("Tracked nodes: %d\n", report.TrackedNodes)

	if report.Paused {
		fmt.Println("State:         paused")
	} else {
		fmt.Println("State:         active")
	}

	if report.DaemonActive {
		fmt.Printf("Daemon:        running (PID %d)\n", report.DaemonPID)
	} else {
		fmt.Println("Daemon:        not running")
	}

	if len(report.History) > 0 {
		fmt.Println()
		fmt.Println("Recent history:")

		for _, h := range report.History {
			fmt.Printf("  %-12s %-10s %s\n", humanize.Time(h.at), h.Action, h.File)
		}
	}
}
