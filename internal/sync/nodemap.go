package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// syncMetaDir is the directory name holding all persisted engine state (§6).
const syncMetaDir = ".sync-meta"

const (
	nodeMapFileName   = "node-map.json"
	syncStateFileName = "sync-state.json"
	metaDirPerm       = 0o755
	metaFilePerm      = 0o644
)

// NodeMapEntry is one record of the node map (§3): the local relative path,
// last-known content checksum, and (when available) the OS inode used for
// rename detection.
type NodeMapEntry struct {
	Path     string  `json:"path"`
	Checksum string  `json:"checksum"`
	Inode    *uint64 `json:"inode,omitempty"`
}

// NodeMap is the full persisted id -> entry table, keyed by NodeID.
type NodeMap map[NodeID]NodeMapEntry

// uploadNodeID synthesizes a stable local node-map key for an upload file.
// Uploads are opaque, path-addressed blobs (§3 Glossary: "node id" is
// defined only for "a tracked site"); ListUploads never returns one and
// there is no Delete/Rename/Move call for uploads in the wire protocol
// (§4.3). This key exists purely so uploads and sites can share one node
// map and one pending-actions mechanism; it is never sent over the wire.
func uploadNodeID(relPath string) NodeID {
	return NodeID("upload:" + relPath)
}

// SyncState is the persisted {lastSyncedAt} record (§3). A zero value means
// "never synced" once distinguished from Present.
type SyncState struct {
	LastSyncedAt int64 `json:"lastSyncedAt"`
	Present      bool  `json:"-"`
}

// Store owns the in-memory node map and sync state plus their on-disk
// persistence. All mutation happens from the single event loop described
// in §5; Store itself adds a mutex only to guard against accidental
// concurrent access in tests, not to support real concurrent writers.
type Store struct {
	mu    sync.Mutex
	root  string
	nodes NodeMap
	state SyncState
}

// NewStore creates an empty, unpersisted Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root, nodes: make(NodeMap)}
}

func metaPath(root, name string) string {
	return filepath.Join(root, syncMetaDir, name)
}

// legacyMapEntry accepts both the current object shape and the legacy
// bare-string shape (§6: "node-map.json values MAY also be legacy strings").
type legacyMapEntry struct {
	asObject *NodeMapEntry
	asString string
}

func (e *legacyMapEntry) UnmarshalJSON(data []byte) error {
	var obj NodeMapEntry
	if err := json.Unmarshal(data, &obj); err == nil && (obj.Path != "" || obj.Checksum != "") {
		e.asObject = &obj

		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	e.asString = str

	return nil
}

func (e legacyMapEntry) entry() NodeMapEntry {
	if e.asObject != nil {
		return *e.asObject
	}

	return NodeMapEntry{Path: e.asString}
}

// Load reads both persisted files from root. A parse failure degrades to
// an empty map with a logged warning rather than a fatal error (§4.1), so
// the next reconcile can rebuild state from the server listing. Legacy
// string-valued entries are transparently upgraded to the object shape.
func Load(root string, logger *slog.Logger) (*Store, SyncState) {
	if logger == nil {
		logger = slog.Default()
	}

	s := NewStore(root)

	raw, err := os.ReadFile(metaPath(root, nodeMapFileName))
	switch {
	case err == nil:
		var legacy map[NodeID]legacyMapEntry
		if jsonErr := json.Unmarshal(raw, &legacy); jsonErr != nil {
			logger.Warn("sync: corrupt node-map.json, starting with an empty map", slog.Any("error", jsonErr))
		} else {
			nodes := make(NodeMap, len(legacy))
			for id, le := range legacy {
				nodes[id] = le.entry()
			}

			s.nodes = nodes
		}
	case os.IsNotExist(err):
		// First run: empty map is correct, not an error.
	default:
		logger.Warn("sync: reading node-map.json", slog.Any("error", err))
	}

	state := SyncState{}

	raw, err = os.ReadFile(metaPath(root, syncStateFileName))
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &state); jsonErr != nil {
			logger.Warn("sync: corrupt sync-state.json, treating as never-synced", slog.Any("error", jsonErr))
		} else {
			state.Present = true
		}
	case os.IsNotExist(err):
		// Absence means never synced (§3).
	default:
		logger.Warn("sync: reading sync-state.json", slog.Any("error", err))
	}

	s.state = state

	return s, state
}

// Get returns the entry for id and whether it exists.
func (s *Store) Get(id NodeID) (NodeMapEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes[id]

	return e, ok
}

// GetByPath linearly scans for the node id whose entry.Path matches relPath.
// The node map is small (single-user site counts), so no secondary index
// is maintained for this direction.
func (s *Store) GetByPath(relPath string) (NodeID, NodeMapEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.nodes {
		if e.Path == relPath {
			return id, e, true
		}
	}

	return "", NodeMapEntry{}, false
}

// Set inserts or replaces the entry for id (invariant I1/I2's caller).
func (s *Store) Set(id NodeID, entry NodeMapEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[id] = entry
}

// Delete removes id from the map, e.g. after a confirmed server delete or
// trash (§3 Lifecycle).
func (s *Store) Delete(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, id)
}

// All returns a snapshot copy of the node map, safe for the caller to range
// over without holding the Store's lock.
func (s *Store) All() NodeMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(NodeMap, len(s.nodes))
	for id, e := range s.nodes {
		out[id] = e
	}

	return out
}

// State returns the last-loaded/last-saved sync state.
func (s *Store) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Save persists the node map via write-to-temp + fsync + atomic rename
// (§4.1). A save failure is fatal for the current cycle but never corrupts
// the on-disk file, since the rename only happens after a successful write.
func (s *Store) Save() error {
	s.mu.Lock()
	nodes := make(NodeMap, len(s.nodes))

	for id, e := range s.nodes {
		nodes[id] = e
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return fmt.Errorf("sync: encoding node map: %w", err)
	}

	return atomicWrite(metaPath(s.root, nodeMapFileName), data)
}

// SaveState persists {lastSyncedAt} the same way Save persists the node map.
func (s *Store) SaveState(lastSyncedAt int64) error {
	s.mu.Lock()
	s.state = SyncState{LastSyncedAt: lastSyncedAt, Present: true}
	s.mu.Unlock()

	data, err := json.Marshal(SyncState{LastSyncedAt: lastSyncedAt})
	if err != nil {
		return fmt.Errorf("sync: encoding sync state: %w", err)
	}

	return atomicWrite(metaPath(s.root, syncStateFileName), data)
}

// atomicWrite writes data to path via a same-directory temp file, fsync,
// and rename, mirroring internal/config's atomicWriteFile discipline (§6:
// "All metadata files are written atomically").
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, metaDirPerm); err != nil {
		return fmt.Errorf("sync: creating %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sync: creating temp file: %w", err)
	}

	tmpPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("sync: writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("sync: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("sync: closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, metaFilePerm); err != nil {
		return fmt.Errorf("sync: setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sync: renaming temp file into place: %w", err)
	}

	succeeded = true

	return nil
}

// Inode returns the OS file identity for path, when the platform's FileInfo
// exposes one. Best-effort: returns (0, false) on any stat failure or on a
// platform where Sys() doesn't yield an inode (handled in the
// platform-specific companion file).
func Inode(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}

	return inodeFromFileInfo(info)
}
