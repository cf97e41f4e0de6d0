package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/foliosync/foliosync/pkg/checksum"
)

// ReconcileMode selects which halves of a reconcile cycle run (§4.5, driven
// by the CLI's --download-only/--upload-only flags).
type ReconcileMode int

const (
	ModeFull ReconcileMode = iota
	ModeDownloadOnly
	ModeUploadOnly
)

func (m ReconcileMode) String() string {
	switch m {
	case ModeDownloadOnly:
		return "download-only"
	case ModeUploadOnly:
		return "upload-only"
	default:
		return "full"
	}
}

// ReconcileOptions configures one reconcile cycle.
type ReconcileOptions struct {
	Mode ReconcileMode
	// DryRun reports what would change without writing to disk, trashing,
	// or making any mutating network call.
	DryRun bool
	// Force bypasses the future-dated/local-newer protection in phase A,
	// useful for an explicit "I know what I'm doing" re-sync.
	Force bool
}

// SyncReport summarizes one reconcile cycle for CLI/event consumers (§4.5:
// "produce a SyncReport ... logged at Info ... returned to the CLI").
type SyncReport struct {
	Mode    string
	Stats   Stats
	Errors  []string
	Elapsed time.Duration

	// combined accumulates every per-file error via multierr.Append so a
	// failure in one file never aborts the sweep; Errors is its rendered,
	// JSON-friendly projection (see recordError).
	combined error
}

// Reconciler computes and applies the diff between the server's listings
// and the local sync folder in three phases (§4.5). It is the only writer
// of node-map entries besides the watcher, the SSE client and the upload
// queue (which records each completed upload), and per §5 is never run
// concurrently with itself.
type Reconciler struct {
	root     string
	deviceID string
	api      APIClient
	store    *Store
	cache    *Cache
	pending  *PendingActions
	queue    *Queue
	bus      *Bus
	clock    Clock
	logger   *slog.Logger

	calibrator *Calibrator
	dryRun     bool
}

// NewReconciler creates a Reconciler. clock defaults to RealClock.
func NewReconciler(root, deviceID string, api APIClient, store *Store, cache *Cache, pending *PendingActions, queue *Queue, bus *Bus, clock Clock, logger *slog.Logger) *Reconciler {
	if clock == nil {
		clock = RealClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		root:     root,
		deviceID: deviceID,
		api:      api,
		store:    store,
		cache:    cache,
		pending:  pending,
		queue:    queue,
		bus:      bus,
		clock:    clock,
		logger:   logger,
	}
}

// serverNode unifies a SiteRecord or UploadRecord into the shape the three
// phases operate on, since sites (node-id addressed) and uploads
// (path-addressed) share the same reconcile algorithm but not the same wire
// type (§4.3).
type serverNode struct {
	id         NodeID
	relPath    string
	checksum   string
	modifiedAt time.Time
	kind       NodeKind
}

func siteRelPath(rec SiteRecord) string {
	if rec.Path == "" {
		return rec.Filename + ".html"
	}

	return rec.Path + "/" + rec.Filename + ".html"
}

func sitesToServerNodes(recs []SiteRecord) []serverNode {
	nodes := make([]serverNode, 0, len(recs))

	for _, rec := range recs {
		nodes = append(nodes, serverNode{
			id:         rec.NodeID,
			relPath:    siteRelPath(rec),
			checksum:   rec.Checksum,
			modifiedAt: rec.ModifiedAt,
			kind:       KindSite,
		})
	}

	return nodes
}

func uploadsToServerNodes(recs []UploadRecord) []serverNode {
	nodes := make([]serverNode, 0, len(recs))

	for _, rec := range recs {
		nodes = append(nodes, serverNode{
			id:         uploadNodeID(rec.Path),
			relPath:    rec.Path,
			checksum:   rec.Checksum,
			modifiedAt: rec.ModifiedAt,
			kind:       KindUpload,
		})
	}

	return nodes
}

// Run executes one reconcile cycle (§4.5).
func (r *Reconciler) Run(ctx context.Context, opts ReconcileOptions) (SyncReport, error) {
	start := r.clock.Now()
	report := SyncReport{Mode: opts.Mode.String()}

	r.dryRun = opts.DryRun

	status, err := r.api.Status(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: calibrating clock: %w", err)
	}

	r.calibrator = NewCalibrator(r.clock, status.ServerTime)

	r.bus.Publish(Event{Kind: EventSyncStart, Priority: PriorityLow})

	sites, err := r.cache.RefreshSites(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: listing sites: %w", err)
	}

	uploads, err := r.cache.RefreshUploads(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: listing uploads: %w", err)
	}

	nodes := append(sitesToServerNodes(sites), uploadsToServerNodes(uploads)...)
	state := r.store.State()

	if opts.Mode != ModeUploadOnly {
		r.phaseA(ctx, nodes, opts, &report)
	}

	if state.Present && opts.Mode != ModeUploadOnly {
		serverIDs := make(map[NodeID]bool, len(nodes))
		for _, sn := range nodes {
			serverIDs[sn.id] = true
		}

		r.phaseB(state.LastSyncedAt, serverIDs, &report)
	}

	if opts.Mode != ModeDownloadOnly {
		r.phaseC(ctx, nodes, state.LastSyncedAt, &report)
	}

	report.Elapsed = r.clock.Now().Sub(start)

	if !opts.DryRun {
		if saveErr := r.store.Save(); saveErr != nil {
			r.logger.Warn("saving node map", slog.Any("error", saveErr))
		}

		if saveErr := r.store.SaveState(nowMillis(r.clock)); saveErr != nil {
			r.logger.Warn("saving sync state", slog.Any("error", saveErr))
		}
	}

	r.logger.Info("reconcile complete",
		slog.String("mode", report.Mode),
		slog.Duration("elapsed", report.Elapsed),
		slog.Int("downloaded", report.Stats.FilesDownloaded),
		slog.Int("uploaded", report.Stats.FilesUploaded),
		slog.Int("errors", report.Stats.Errors))

	r.bus.Publish(Event{Kind: EventSyncComplete, Priority: PriorityLow, Stats: report.Stats})

	return report, nil
}

// recordError accumulates a per-file failure without aborting the sweep
// (§4.5): the error joins report.combined via multierr.Append, and its
// rendered form is appended to the plain-string Errors slice the CLI and
// JSON output consume.
func (r *Reconciler) recordError(report *SyncReport, relPath string, err error) {
	wrapped := fmt.Errorf("%s: %w", relPath, err)

	report.Stats.Errors++
	report.combined = multierr.Append(report.combined, wrapped)
	report.Errors = append(report.Errors, wrapped.Error())
	r.bus.Publish(Event{Kind: EventSyncError, Priority: PriorityHigh, File: relPath, Message: err.Error()})
}

func (r *Reconciler) absPath(relPath string) string {
	return filepath.Join(r.root, filepath.FromSlash(relPath))
}

// phaseA is the server-authoritative sweep (§4.5 Phase A).
func (r *Reconciler) phaseA(ctx context.Context, nodes []serverNode, opts ReconcileOptions, report *SyncReport) {
	for _, sn := range nodes {
		abs := r.absPath(sn.relPath)

		if _, err := os.Stat(abs); os.IsNotExist(err) {
			if entry, ok := r.store.Get(sn.id); ok && entry.Path != "" && entry.Path != sn.relPath {
				if r.relocateKnownFile(entry.Path, sn, report) {
					continue
				}
			}
		}

		info, statErr := os.Stat(abs)
		if statErr != nil {
			if dlErr := r.downloadAndWrite(ctx, sn, report); dlErr != nil {
				r.recordError(report, sn.relPath, dlErr)
			}

			continue
		}

		if !opts.Force {
			adjusted := r.calibrator.Adjust(info.ModTime())

			if r.calibrator.IsFutureDated(adjusted) {
				report.Stats.FilesProtected++

				continue
			}

			if r.calibrator.LocalNewer(adjusted, sn.modifiedAt) {
				report.Stats.FilesProtected++

				continue
			}
		}

		content, readErr := os.ReadFile(abs)
		if readErr != nil {
			r.recordError(report, sn.relPath, readErr)

			continue
		}

		if checksum.Bytes(content) == sn.checksum {
			report.Stats.FilesDownloadedSkipped++

			entry := NodeMapEntry{Path: sn.relPath, Checksum: sn.checksum}
			if inode, ok := Inode(abs); ok {
				entry.Inode = &inode
			}

			r.store.Set(sn.id, entry)

			continue
		}

		if dlErr := r.downloadAndWrite(ctx, sn, report); dlErr != nil {
			r.recordError(report, sn.relPath, dlErr)
		}
	}
}

// relocateKnownFile moves a locally-tracked file to its new server path when
// the server says it lives elsewhere now but our copy hasn't moved yet.
func (r *Reconciler) relocateKnownFile(oldRelPath string, sn serverNode, report *SyncReport) bool {
	oldAbs := r.absPath(oldRelPath)
	if _, err := os.Stat(oldAbs); err != nil {
		return false
	}

	if r.dryRun {
		report.Stats.FilesMoved++

		return true
	}

	newAbs := r.absPath(sn.relPath)
	if err := os.MkdirAll(filepath.Dir(newAbs), metaDirPerm); err != nil {
		return false
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return false
	}

	entry := NodeMapEntry{Path: sn.relPath, Checksum: sn.checksum}
	if inode, ok := Inode(newAbs); ok {
		entry.Inode = &inode
	}

	r.store.Set(sn.id, entry)
	report.Stats.FilesMoved++

	return true
}

// downloadAndWrite fetches sn's content and writes it to disk with a backup
// of whatever was there before (§4.5 Phase A, invariant I2).
func (r *Reconciler) downloadAndWrite(ctx context.Context, sn serverNode, report *SyncReport) error {
	if r.dryRun {
		report.Stats.FilesDownloaded++

		return nil
	}

	var (
		content  []byte
		sum      string
		modified time.Time
	)

	if sn.kind == KindSite {
		res, err := r.api.Download(ctx, strings.TrimSuffix(sn.relPath, ".html"))
		if err != nil {
			return err
		}

		content = []byte(res.Content)
		sum = res.Checksum
		modified = res.ModifiedAt
	} else {
		res, err := r.api.DownloadUpload(ctx, sn.relPath)
		if err != nil {
			return err
		}

		content = res.Content
		sum = res.Checksum
		modified = res.ModifiedAt
	}

	if backed, err := BackupIfExists(r.root, sn.relPath, sn.kind, r.clock.Now()); err != nil {
		r.logger.Warn("backup before download failed", slog.String("path", sn.relPath), slog.Any("error", err))
	} else if backed {
		r.bus.Publish(Event{Kind: EventBackupCreated, File: sn.relPath, Action: "download"})
	}

	abs := r.absPath(sn.relPath)
	if err := os.MkdirAll(filepath.Dir(abs), metaDirPerm); err != nil {
		return fmt.Errorf("sync: creating %s: %w", filepath.Dir(abs), err)
	}

	if err := os.WriteFile(abs, content, metaFilePerm); err != nil {
		return fmt.Errorf("sync: writing %s: %w", sn.relPath, err)
	}

	if !modified.IsZero() {
		_ = os.Chtimes(abs, modified, modified)
	}

	entry := NodeMapEntry{Path: sn.relPath, Checksum: sum}
	if inode, ok := Inode(abs); ok {
		entry.Inode = &inode
	}

	r.store.Set(sn.id, entry)
	report.Stats.FilesDownloaded++
	r.bus.Publish(Event{Kind: EventFileSynced, File: sn.relPath, Action: "download"})

	return nil
}

// phaseB is the server-deletion sweep (§4.5 Phase B), run only once a prior
// cycle has completed (lastSyncedAt is meaningful).
func (r *Reconciler) phaseB(lastSyncedAt int64, serverIDs map[NodeID]bool, report *SyncReport) {
	for id, entry := range r.store.All() {
		if serverIDs[id] {
			continue
		}

		abs := r.absPath(entry.Path)

		if info, err := os.Stat(abs); err == nil && info.ModTime().UnixMilli() > lastSyncedAt {
			// Edited offline after our last known-good state: keep the
			// file, drop the map entry so phase C re-uploads it fresh.
			r.store.Delete(id)

			continue
		}

		if !r.dryRun {
			if err := MoveToTrash(r.root, entry.Path); err != nil {
				r.logger.Warn("trashing server-deleted file", slog.String("path", entry.Path), slog.Any("error", err))
			}
		}

		r.store.Delete(id)
		report.Stats.FilesDeleted++
		r.bus.Publish(Event{Kind: EventFileSynced, File: entry.Path, Action: "server-delete"})
	}
}

// localFileInfo is one entry of the local-file index phase C builds.
type localFileInfo struct {
	checksum string
	inode    *uint64
	modTime  time.Time
}

func (r *Reconciler) walkLocalFiles() map[string]localFileInfo {
	out := make(map[string]localFileInfo)

	_ = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == r.root {
			return nil //nolint:nilerr // best-effort walk; a transient stat error just skips that entry
		}

		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}

		rel = nfcNormalize(filepath.ToSlash(rel))

		if d.IsDir() {
			if isIgnoredSegment(filepath.Base(rel)) {
				return filepath.SkipDir
			}

			return nil
		}

		if isIgnoredPath(rel) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		info := localFileInfo{checksum: checksum.Bytes(content)}

		if inode, ok := Inode(path); ok {
			info.inode = &inode
		}

		if st, statErr := d.Info(); statErr == nil {
			info.modTime = st.ModTime()
		}

		out[rel] = info

		return nil
	})

	return out
}

// findOfflineMatch looks for an unclaimed local file that is really entry
// relocated while the client was offline, trying basename-at-new-folder,
// then inode, then checksum in that priority order (§4.5 Phase C).
func findOfflineMatch(entry NodeMapEntry, localFiles map[string]localFileInfo, claimed map[string]bool) (string, bool) {
	entryBase := filepath.Base(entry.Path)

	for relPath := range localFiles {
		if claimed[relPath] || relPath == entry.Path {
			continue
		}

		if filepath.Base(relPath) == entryBase {
			return relPath, true
		}
	}

	if entry.Inode != nil {
		for relPath, info := range localFiles {
			if claimed[relPath] || relPath == entry.Path {
				continue
			}

			if info.inode != nil && *info.inode == *entry.Inode {
				return relPath, true
			}
		}
	}

	for relPath, info := range localFiles {
		if claimed[relPath] || relPath == entry.Path {
			continue
		}

		if info.checksum == entry.Checksum {
			return relPath, true
		}
	}

	return "", false
}

// phaseC is the local-only sweep and offline-change inference (§4.5 Phase
// C): entries whose local file vanished from its expected path are matched
// against unclaimed local files to recognize an offline move/rename before
// falling back to "offline delete"; anything left over with no server id
// gets uploaded.
func (r *Reconciler) phaseC(ctx context.Context, nodes []serverNode, lastSyncedAt int64, report *SyncReport) {
	localFiles := r.walkLocalFiles()
	claimed := make(map[string]bool, len(localFiles))

	serverByID := make(map[NodeID]serverNode, len(nodes))
	for _, sn := range nodes {
		serverByID[sn.id] = sn
	}

	for id, entry := range r.store.All() {
		if _, present := localFiles[entry.Path]; present {
			claimed[entry.Path] = true

			continue
		}

		if matchPath, matched := findOfflineMatch(entry, localFiles, claimed); matched {
			claimed[matchPath] = true
			r.applyOfflineRelocate(ctx, id, entry, matchPath, localFiles[matchPath], report)

			continue
		}

		r.applyOfflineDelete(ctx, id, entry, serverByID, lastSyncedAt, report)
	}

	r.uploadUnclaimed(localFiles, claimed, report)
}

func (r *Reconciler) applyOfflineRelocate(ctx context.Context, id NodeID, entry NodeMapEntry, newRelPath string, info localFileInfo, report *SyncReport) {
	kind := classifyKind(newRelPath)

	if kind == KindUpload {
		// No Rename/Move call exists for uploads (§4.3); re-home the
		// tracking entry under a freshly synthesized id and let the old
		// path's upload go orphaned server-side.
		r.store.Delete(id)
		r.store.Set(uploadNodeID(newRelPath), NodeMapEntry{Path: newRelPath, Checksum: info.checksum, Inode: info.inode})
		report.Stats.FilesRenamed++

		return
	}

	newDir, newName := splitRelPath(newRelPath)
	oldDir, _ := splitRelPath(entry.Path)

	if r.dryRun {
		if newDir != oldDir {
			report.Stats.FilesMoved++
		} else {
			report.Stats.FilesRenamed++
		}

		return
	}

	if newDir != oldDir {
		r.pending.Insert(pendingMove, id)

		if err := r.api.Move(ctx, id, newDir); err != nil {
			r.recordError(report, newRelPath, err)

			return
		}

		report.Stats.FilesMoved++
	} else {
		r.pending.Insert(pendingRename, id)

		newBase := strings.TrimSuffix(newName, ".html")
		if err := r.api.Rename(ctx, id, newBase); err != nil {
			r.recordError(report, newRelPath, err)

			return
		}

		report.Stats.FilesRenamed++
	}

	entry.Path = newRelPath
	entry.Checksum = info.checksum
	entry.Inode = info.inode
	r.store.Set(id, entry)
}

func (r *Reconciler) applyOfflineDelete(ctx context.Context, id NodeID, entry NodeMapEntry, serverByID map[NodeID]serverNode, lastSyncedAt int64, report *SyncReport) {
	if sn, onServer := serverByID[id]; onServer && sn.modifiedAt.UnixMilli() > lastSyncedAt {
		// Modified on the server while we thought it was gone: re-download
		// instead of deleting (§4.5 Phase C step 4, delete-conflict check).
		if err := r.downloadAndWrite(ctx, sn, report); err != nil {
			r.recordError(report, entry.Path, err)
		}

		return
	}

	if r.dryRun {
		report.Stats.FilesDeleted++
		r.store.Delete(id)

		return
	}

	if classifyKind(entry.Path) == KindSite {
		r.pending.Insert(pendingDelete, id)

		if err := r.api.Delete(ctx, id); err != nil {
			r.recordError(report, entry.Path, err)

			return
		}
	}

	r.store.Delete(id)
	report.Stats.FilesDeleted++
	r.bus.Publish(Event{Kind: EventFileSynced, File: entry.Path, Action: "offline-delete"})
}

func (r *Reconciler) uploadUnclaimed(localFiles map[string]localFileInfo, claimed map[string]bool, report *SyncReport) {
	seenBasenames := make(map[string]string, len(localFiles))

	for relPath := range localFiles {
		if claimed[relPath] {
			continue
		}

		base := filepath.Base(relPath)
		if existing, dup := seenBasenames[base]; dup && existing != relPath {
			report.Stats.DuplicateFilenames++
			r.bus.Publish(Event{Kind: EventSyncWarning, Priority: PriorityMedium, File: relPath, Action: "duplicate-filename"})

			continue
		}

		seenBasenames[base] = relPath
		report.Stats.FilesUploaded++

		if !r.dryRun {
			r.queue.EnqueueUpload(relPath)
		}
	}
}
