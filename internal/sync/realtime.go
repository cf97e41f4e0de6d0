package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// sseMessage is the envelope every server-sent event carries; fields unused
// by a given type are left zero (§4.7).
type sseMessage struct {
	Type string `json:"type"`

	File       string `json:"file"`
	HTML       string `json:"html"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	Checksum   string `json:"checksum"`
	ModifiedAt string `json:"modifiedAt"`
	NodeID     string `json:"nodeId"`
	OldName    string `json:"oldName"`
	NewName    string `json:"newName"`
	FromPath   string `json:"fromPath"`
	ToPath     string `json:"toPath"`
}

// Realtime consumes the server's SSE stream and applies file-saved/renamed/
// moved/deleted messages the way the reconciler does, skipping any mutation
// whose pending-actions token shows it originated locally (§4.7).
type Realtime struct {
	root     string
	deviceID string
	api      APIClient
	store    *Store
	pending  *PendingActions
	cache    *Cache
	bus      *Bus
	clock    Clock
	logger   *slog.Logger

	onStale func()

	mu              sync.Mutex
	lastSseActivity time.Time
}

// NewRealtime creates a Realtime client. onStale is invoked when the
// watchdog judges the stream silent for too long (§4.7); typically this
// triggers a reconciler poll. clock defaults to RealClock.
func NewRealtime(root, deviceID string, api APIClient, store *Store, pending *PendingActions, cache *Cache, bus *Bus, clock Clock, logger *slog.Logger, onStale func()) *Realtime {
	if clock == nil {
		clock = RealClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Realtime{
		root:     root,
		deviceID: deviceID,
		api:      api,
		store:    store,
		pending:  pending,
		cache:    cache,
		bus:      bus,
		clock:    clock,
		logger:   logger,
		onStale:  onStale,
	}
}

// Run connects and reconnects until ctx is canceled, reconnecting after
// SSEReconnectDelay on any transport error (§4.7). It also runs the
// silence watchdog on its own ticker for the lifetime of the call.
func (r *Realtime) Run(ctx context.Context) {
	go r.watchdog(ctx)

	backoff := retry.NewConstant(SSEReconnectDelay)

	for ctx.Err() == nil {
		if err := r.connectOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("sse stream error, reconnecting", slog.Any("error", err))
		}

		if ctx.Err() != nil {
			return
		}

		_ = retry.Do(ctx, retry.WithMaxRetries(1, backoff), func(ctx context.Context) error {
			return retry.RetryableError(errors.New("reconnect delay"))
		})
	}
}

func (r *Realtime) connectOnce(ctx context.Context) error {
	body, err := r.api.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	r.touch()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}

		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		r.touch()
		r.dispatch(ctx, payload)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			r.touch() // comment lines double as keep-alive pings
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	flush()

	return scanner.Err()
}

func (r *Realtime) touch() {
	r.mu.Lock()
	r.lastSseActivity = r.clock.Now()
	r.mu.Unlock()
}

// watchdog polls every SSEWatchdogInterval and triggers onStale once the
// stream has been silent for SSESilenceThreshold, resetting its own clock
// so a single stall doesn't trigger repeatedly (§4.7).
func (r *Realtime) watchdog(ctx context.Context) {
	ticker := time.NewTicker(SSEWatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			last := r.lastSseActivity
			r.mu.Unlock()

			if last.IsZero() {
				continue
			}

			if r.clock.Now().Sub(last) > SSESilenceThreshold {
				r.touch()

				if r.onStale != nil {
					r.onStale()
				}
			}
		}
	}
}

func (r *Realtime) dispatch(ctx context.Context, payload string) {
	var msg sseMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("sse: malformed message", slog.Any("error", err))

		return
	}

	switch msg.Type {
	case "live-sync":
		r.handleLiveSync(msg)
	case "file-saved":
		r.handleFileSaved(ctx, msg)
	case "file-renamed":
		r.handleFileRenamed(msg)
	case "file-moved":
		r.handleFileMoved(msg)
	case "file-deleted":
		r.handleFileDeleted(msg)
	default:
		r.logger.Debug("sse: unhandled message type", slog.String("type", msg.Type))
	}
}

// handleLiveSync is a no-op for disk sync beyond self-echo detection: the
// browser-to-browser content relay it describes is server-mediated and
// orthogonal to this engine (§6 Glossary, "Live-sync"). A non-self message
// is only surfaced as an event for visibility; there is no local browser
// transport in this component for the message to relay into.
func (r *Realtime) handleLiveSync(msg sseMessage) {
	if msg.Sender == r.deviceID {
		return
	}

	r.bus.Publish(Event{Kind: EventFileSynced, File: msg.File, Action: "live-sync"})
}

func (r *Realtime) handleFileSaved(_ context.Context, msg sseMessage) {
	id := NodeID(msg.NodeID)

	entry, known := r.store.Get(id)
	if known && entry.Checksum == msg.Checksum {
		return
	}

	relPath := msg.File
	if relPath == "" && known {
		relPath = entry.Path
	}

	if relPath == "" {
		r.logger.Warn("sse: file-saved missing file path", slog.String("nodeId", string(id)))

		return
	}

	kind := classifyKind(relPath)

	if backed, err := BackupIfExists(r.root, relPath, kind, r.clock.Now()); err != nil {
		r.logger.Warn("sse: backup before write-through failed", slog.String("path", relPath), slog.Any("error", err))
	} else if backed {
		r.bus.Publish(Event{Kind: EventBackupCreated, File: relPath, Action: "write-through"})
	}

	abs := filepath.Join(r.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(abs), metaDirPerm); err != nil {
		r.logger.Warn("sse: creating parent directory", slog.String("path", relPath), slog.Any("error", err))

		return
	}

	if err := os.WriteFile(abs, []byte(msg.Content), metaFilePerm); err != nil {
		r.logger.Warn("sse: write-through failed", slog.String("path", relPath), slog.Any("error", err))

		return
	}

	newEntry := NodeMapEntry{Path: relPath, Checksum: msg.Checksum}
	if inode, ok := Inode(abs); ok {
		newEntry.Inode = &inode
	}

	r.store.Set(id, newEntry)
	r.cache.Invalidate()
	r.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "write-through"})
}

func (r *Realtime) handleFileRenamed(msg sseMessage) {
	id := NodeID(msg.NodeID)

	if r.pending.Consume(pendingRename, id) {
		return
	}

	entry, ok := r.store.Get(id)
	if !ok {
		r.logger.Warn("sse: file-renamed for untracked node", slog.String("nodeId", string(msg.NodeID)))

		return
	}

	dir, _ := splitRelPath(entry.Path)
	newRelPath := msg.NewName
	if dir != "" {
		newRelPath = dir + "/" + msg.NewName
	}

	r.moveOnDisk(id, entry, newRelPath)
}

func (r *Realtime) handleFileMoved(msg sseMessage) {
	id := NodeID(msg.NodeID)

	if r.pending.Consume(pendingMove, id) {
		return
	}

	entry, ok := r.store.Get(id)
	if !ok {
		r.logger.Warn("sse: file-moved for untracked node", slog.String("nodeId", string(msg.NodeID)))

		return
	}

	r.moveOnDisk(id, entry, msg.ToPath)
}

func (r *Realtime) moveOnDisk(id NodeID, entry NodeMapEntry, newRelPath string) {
	oldAbs := filepath.Join(r.root, filepath.FromSlash(entry.Path))
	newAbs := filepath.Join(r.root, filepath.FromSlash(newRelPath))

	if err := os.MkdirAll(filepath.Dir(newAbs), metaDirPerm); err != nil {
		r.logger.Warn("sse: creating destination directory", slog.String("path", newRelPath), slog.Any("error", err))

		return
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		r.logger.Warn("sse: applying remote move/rename", slog.String("from", entry.Path), slog.String("to", newRelPath), slog.Any("error", err))

		return
	}

	entry.Path = newRelPath
	if inode, ok := Inode(newAbs); ok {
		entry.Inode = &inode
	}

	r.store.Set(id, entry)
	r.cache.Invalidate()
	r.bus.Publish(Event{Kind: EventFileSynced, File: newRelPath, Action: "remote-move"})
}

func (r *Realtime) handleFileDeleted(msg sseMessage) {
	id := NodeID(msg.NodeID)

	if r.pending.Consume(pendingDelete, id) {
		return
	}

	entry, ok := r.store.Get(id)
	relPath := msg.File
	if ok {
		relPath = entry.Path
	}

	if relPath == "" {
		return
	}

	if err := MoveToTrash(r.root, relPath); err != nil {
		r.logger.Warn("sse: trashing remotely deleted file", slog.String("path", relPath), slog.Any("error", err))
	}

	r.store.Delete(id)
	r.cache.Invalidate()
	r.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "remote-delete"})
}
