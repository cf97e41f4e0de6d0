package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/foliosync/foliosync/pkg/checksum"
)

// FsWatcher abstracts filesystem event monitoring so tests can inject a
// fake instead of a real fsnotify.Watcher, mirroring the teacher's
// LocalObserver/FsWatcher split.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error       { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                   { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event  { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error           { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// ignoredSegments names path segments the watcher never descends into or
// reports events for (§4.6).
var ignoredSegments = map[string]bool{
	"node_modules":   true,
	"sites-versions": true,
	"tailwindcss":    true,
	syncMetaDir:      true,
	trashDirName:     true,
}

// ignoredNames are OS cruft files ignored regardless of location (§4.6).
var ignoredNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
}

func isIgnoredSegment(seg string) bool {
	if ignoredSegments[seg] {
		return true
	}

	// "any dotted segment" (§4.6), except the root itself which callers
	// never pass here.
	return strings.HasPrefix(seg, ".")
}

func isIgnoredPath(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if isIgnoredSegment(seg) {
			return true
		}
	}

	base := filepath.Base(relPath)

	return ignoredNames[base]
}

// nfcNormalize normalizes a path segment to Unicode NFC, so paths that
// arrive differently composed (e.g. from macOS's HFS+/APFS NFD-leaning
// filesystem APIs) compare equal to the same name held in the node map
// (§9 Open question — path normalization).
func nfcNormalize(s string) string {
	return norm.NFC.String(s)
}

// classifyKind reports which artifact kind relPath belongs to: a site file
// is one ending in .html; anything else is an upload (§3). Classification
// is purely suffix-based — name validity is checked separately by
// ValidatePath before a file is ever sent to the server.
func classifyKind(relPath string) NodeKind {
	if strings.HasSuffix(relPath, ".html") {
		return KindSite
	}

	return KindUpload
}

// pendingUnlink holds an observed local delete for the grace window, to be
// paired with a subsequent create into a rename/move (§3 Pending-unlinks
// map, §4.6).
type pendingUnlink struct {
	nodeID    NodeID
	prevEntry NodeMapEntry
	kind      NodeKind
	timer     *time.Timer
}

// Watcher observes the sync root and emits semantic operations — upload,
// delete, rename, move — to the queue and API client, correlating raw
// create/delete pairs within a grace window the way §4.6 specifies. A
// single fsnotify instance backs both the "sites" and "uploads" logical
// watchers described in §4.6; events are classified into a kind per path
// rather than run through two separate fsnotify trees, which would double
// the kernel watch descriptors for no behavioral difference.
type Watcher struct {
	root    string
	api     APIClient
	store   *Store
	pending *PendingActions
	queue   *Queue
	bus     *Bus
	clock   Clock
	logger  *slog.Logger

	watcherFactory func() (FsWatcher, error)

	unlinks map[string]*pendingUnlink
}

// NewWatcher creates a Watcher. clock defaults to RealClock.
func NewWatcher(root string, api APIClient, store *Store, pending *PendingActions, queue *Queue, bus *Bus, clock Clock, logger *slog.Logger) *Watcher {
	if clock == nil {
		clock = RealClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		root:           root,
		api:            api,
		store:          store,
		pending:        pending,
		queue:          queue,
		bus:            bus,
		clock:          clock,
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		unlinks:        make(map[string]*pendingUnlink),
	}
}

// Run watches the sync root until ctx is canceled, recursively adding
// watches on every directory at start and on every subsequently created
// directory.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.watcherFactory()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handle(ctx, fw, ev)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) addRecursive(fw FsWatcher, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil //nolint:nilerr // best-effort; a vanished directory is not fatal to watch setup
	}

	if err := fw.Add(dir); err != nil {
		w.logger.Warn("adding watch", slog.String("dir", dir), slog.Any("error", err))
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if isIgnoredSegment(nfcNormalize(entry.Name())) {
			continue
		}

		if err := w.addRecursive(fw, filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) relPath(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return "", false
	}

	rel = nfcNormalize(filepath.ToSlash(rel))

	return rel, !isIgnoredPath(rel)
}

func (w *Watcher) handle(ctx context.Context, fw FsWatcher, ev fsnotify.Event) {
	relPath, ok := w.relPath(ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.handleCreate(ctx, fw, ev.Name, relPath)
	case ev.Has(fsnotify.Write):
		w.handleWrite(relPath)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.handleRemove(relPath)
	}
}

// handleCreate processes a raw create. Directories get a new watch and are
// otherwise ignored (their contents generate their own events). Files are
// checked against pending-unlinks for a rename/move correlation before
// falling back to a plain upload enqueue (§4.6).
func (w *Watcher) handleCreate(_ context.Context, fw FsWatcher, absPath, relPath string) {
	info, err := os.Stat(absPath)
	if err != nil {
		return
	}

	if info.IsDir() {
		if !isIgnoredSegment(filepath.Base(relPath)) {
			if addErr := fw.Add(absPath); addErr != nil {
				w.logger.Warn("adding watch on new directory", slog.String("path", relPath), slog.Any("error", addErr))
			}
		}

		return
	}

	if candidateRelPath, pu, ok := w.matchUnlink(relPath, absPath); ok {
		w.correlate(candidateRelPath, relPath, pu)

		return
	}

	w.queue.EnqueueUpload(relPath)
}

func (w *Watcher) handleWrite(relPath string) {
	w.queue.EnqueueUpload(relPath)
}

// handleRemove holds the delete in pending-unlinks for the grace window
// (§3, §4.6), to be paired with a subsequent create or committed as a
// delete on expiry.
func (w *Watcher) handleRemove(relPath string) {
	if _, exists := w.unlinks[relPath]; exists {
		return
	}

	id, entry, ok := w.store.GetByPath(relPath)
	if !ok {
		// Untracked file deleted before its first upload — nothing to
		// propagate to the server.
		return
	}

	pu := &pendingUnlink{nodeID: id, prevEntry: entry, kind: classifyKind(relPath)}
	pu.timer = time.AfterFunc(DeleteGrace, func() {
		w.commitDelete(relPath, pu)
	})
	w.unlinks[relPath] = pu
}

// matchUnlink looks for a pending-unlink whose identity (inode, else
// content checksum) matches the newly created file at absPath, per §4.6's
// "verify identity before committing" rule. Returns the matched unlink's
// original relative path.
func (w *Watcher) matchUnlink(newRelPath, absPath string) (string, *pendingUnlink, bool) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", nil, false
	}

	newInode, haveNewInode := Inode(absPath)

	for oldRelPath, pu := range w.unlinks {
		if oldRelPath == newRelPath {
			continue
		}

		if pu.prevEntry.Inode != nil && haveNewInode && *pu.prevEntry.Inode == newInode {
			return oldRelPath, pu, true
		}

		if checksum.Bytes(content) == pu.prevEntry.Checksum {
			return oldRelPath, pu, true
		}
	}

	return "", nil, false
}

// correlate turns a matched delete+create pair into a rename, a move, or
// both, calling the server synchronously with a pending-actions token
// inserted first (§4.6, §5's ordering guarantee).
func (w *Watcher) correlate(oldRelPath, newRelPath string, pu *pendingUnlink) {
	pu.timer.Stop()
	delete(w.unlinks, oldRelPath)

	if pu.kind == KindUpload {
		// Uploads have no Rename/Move call (§4.3: only sites carry a node
		// id); the new path's content is already on disk from the create
		// event, so the correlation just re-homes the node-map entry and
		// lets the queue push the content under its new path.
		w.store.Delete(pu.nodeID)
		w.queue.EnqueueUpload(newRelPath)
		w.bus.Publish(Event{Kind: EventFileSynced, File: newRelPath, Action: "rename-or-move"})

		return
	}

	oldDir, oldName := splitRelPath(oldRelPath)
	newDir, newName := splitRelPath(newRelPath)

	ctx := context.Background()

	entry := pu.prevEntry

	if oldDir != newDir {
		w.pending.Insert(pendingMove, pu.nodeID)

		if err := w.api.Move(ctx, pu.nodeID, newDir); err != nil {
			w.logger.Warn("move propagation failed", slog.String("old", oldRelPath), slog.String("new", newRelPath), slog.Any("error", err))
			w.bus.Publish(Event{Kind: EventSyncError, Priority: PriorityHigh, File: newRelPath, Action: "move", Message: err.Error()})

			return
		}

		entry.Path = newDir + "/" + oldName
		if oldDir == "" {
			entry.Path = oldName
		}
	}

	if oldName != newName {
		w.pending.Insert(pendingRename, pu.nodeID)

		newBase := strings.TrimSuffix(newName, ".html")
		if err := w.api.Rename(ctx, pu.nodeID, newBase); err != nil {
			w.logger.Warn("rename propagation failed", slog.String("old", oldRelPath), slog.String("new", newRelPath), slog.Any("error", err))
			w.bus.Publish(Event{Kind: EventSyncError, Priority: PriorityHigh, File: newRelPath, Action: "rename", Message: err.Error()})

			return
		}
	}

	entry.Path = newRelPath
	w.store.Set(pu.nodeID, entry)
	w.bus.Publish(Event{Kind: EventFileSynced, File: newRelPath, Action: "rename-or-move"})
}

// commitDelete fires when a pending-unlink's grace window expires with no
// matching create: the file is gone for good, so the delete is propagated.
func (w *Watcher) commitDelete(relPath string, pu *pendingUnlink) {
	if current, exists := w.unlinks[relPath]; !exists || current != pu {
		return
	}

	delete(w.unlinks, relPath)

	if pu.kind == KindUpload {
		// No Delete call exists for uploads (§4.3); the blob is simply
		// orphaned server-side until overwritten, and we stop tracking it.
		w.store.Delete(pu.nodeID)
		w.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "delete"})

		return
	}

	w.pending.Insert(pendingDelete, pu.nodeID)

	if err := w.api.Delete(context.Background(), pu.nodeID); err != nil {
		w.logger.Warn("delete propagation failed", slog.String("path", relPath), slog.Any("error", err))
		w.bus.Publish(Event{Kind: EventSyncError, Priority: PriorityHigh, File: relPath, Action: "delete", Message: err.Error()})

		return
	}

	w.store.Delete(pu.nodeID)
	w.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "delete"})
}

func splitRelPath(relPath string) (dir, name string) {
	i := strings.LastIndexByte(relPath, '/')
	if i < 0 {
		return "", relPath
	}

	return relPath[:i], relPath[i+1:]
}
