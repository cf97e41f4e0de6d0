package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliosync/foliosync/pkg/checksum"
)

type fakeFsWatcher struct {
	added  []string
	events chan fsnotify.Event
	errs   chan error
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeFsWatcher) Add(name string) error        { f.added = append(f.added, name); return nil }
func (f *fakeFsWatcher) Remove(string) error           { return nil }
func (f *fakeFsWatcher) Close() error                  { return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error          { return f.errs }

func newTestWatcher(t *testing.T, api APIClient) (*Watcher, string, *Bus) {
	t.Helper()

	root := t.TempDir()
	store := NewStore(root)
	pending := NewPendingActions(newFakeClock(time.Now()))
	cache := NewCache(api, newFakeClock(time.Now()))
	bus := NewBus()
	queue := NewQueue(root, "device-1", api, store, cache, bus, newFakeClock(time.Now()), discardLogger())

	return NewWatcher(root, api, store, pending, queue, bus, newFakeClock(time.Now()), discardLogger()), root, bus
}

func TestIsIgnoredSegment(t *testing.T) {
	t.Parallel()

	assert.True(t, isIgnoredSegment("node_modules"))
	assert.True(t, isIgnoredSegment(syncMetaDir))
	assert.True(t, isIgnoredSegment(".git"))
	assert.False(t, isIgnoredSegment("docs"))
}

func TestIsIgnoredPath(t *testing.T) {
	t.Parallel()

	assert.True(t, isIgnoredPath("docs/node_modules/pkg.json"))
	assert.True(t, isIgnoredPath("about/.DS_Store"))
	assert.False(t, isIgnoredPath("docs/about.html"))
}

func TestClassifyKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindSite, classifyKind("about.html"))
	assert.Equal(t, KindUpload, classifyKind("docs/report.pdf"))
}

func TestSplitRelPath(t *testing.T) {
	t.Parallel()

	dir, name := splitRelPath("blog/posts/about.html")
	assert.Equal(t, "blog/posts", dir)
	assert.Equal(t, "about.html", name)

	dir, name = splitRelPath("about.html")
	assert.Equal(t, "", dir)
	assert.Equal(t, "about.html", name)
}

func TestNfcNormalize_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := "café"
	assert.Equal(t, nfcNormalize(s), nfcNormalize(nfcNormalize(s)))
}

func TestWatcher_HandleWrite_EnqueuesUpload(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWatcher(t, &fakeAPIClient{})
	w.handleWrite("about.html")

	w.queue.mu.Lock()
	_, queued := w.queue.timers["about.html"]
	w.queue.mu.Unlock()

	assert.True(t, queued)
}

func TestWatcher_HandleCreate_Directory_AddsWatch(t *testing.T) {
	t.Parallel()

	w, root, _ := newTestWatcher(t, &fakeAPIClient{})
	fw := newFakeFsWatcher()

	sub := filepath.Join(root, "blog")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w.handleCreate(context.Background(), fw, sub, "blog")
	assert.Contains(t, fw.added, sub)
}

func TestWatcher_HandleCreate_NewFile_EnqueuesUpload(t *testing.T) {
	t.Parallel()

	w, root, _ := newTestWatcher(t, &fakeAPIClient{})
	fw := newFakeFsWatcher()

	abs := filepath.Join(root, "about.html")
	require.NoError(t, os.WriteFile(abs, []byte("hi"), 0o644))

	w.handleCreate(context.Background(), fw, abs, "about.html")

	w.queue.mu.Lock()
	_, queued := w.queue.timers["about.html"]
	w.queue.mu.Unlock()

	assert.True(t, queued)
}

func TestWatcher_HandleRemove_UntrackedFileIsNoop(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWatcher(t, &fakeAPIClient{})
	w.handleRemove("about.html")

	assert.Empty(t, w.unlinks)
}

func TestWatcher_HandleRemove_CommitsDeleteAfterGrace(t *testing.T) {
	orig := DeleteGrace
	DeleteGrace = 10 * time.Millisecond
	t.Cleanup(func() { DeleteGrace = orig })

	deleted := make(chan NodeID, 1)
	api := &fakeAPIClient{DeleteFunc: func(_ context.Context, id NodeID) error {
		deleted <- id

		return nil
	}}

	w, _, _ := newTestWatcher(t, api)
	w.store.Set(NodeID("1"), NodeMapEntry{Path: "about.html", Checksum: "abc"})

	w.handleRemove("about.html")

	select {
	case id := <-deleted:
		assert.Equal(t, NodeID("1"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("delete was not propagated after grace window")
	}

	_, ok := w.store.Get(NodeID("1"))
	assert.False(t, ok)
}

func TestWatcher_CorrelateRename_SameDir(t *testing.T) {
	orig := DeleteGrace
	DeleteGrace = time.Hour // never fires during this test
	t.Cleanup(func() { DeleteGrace = orig })

	renamed := make(chan string, 1)
	api := &fakeAPIClient{RenameFunc: func(_ context.Context, _ NodeID, newName string) error {
		renamed <- newName

		return nil
	}}

	w, root, _ := newTestWatcher(t, api)
	content := []byte("hello")
	w.store.Set(NodeID("1"), NodeMapEntry{Path: "about.html", Checksum: checksum.Bytes(content)})

	require.NoError(t, os.WriteFile(filepath.Join(root, "about.html"), content, 0o644))
	w.handleRemove("about.html")

	newAbs := filepath.Join(root, "renamed.html")
	require.NoError(t, os.WriteFile(newAbs, content, 0o644))

	fw := newFakeFsWatcher()
	w.handleCreate(context.Background(), fw, newAbs, "renamed.html")

	select {
	case name := <-renamed:
		assert.Equal(t, "renamed", name)
	case <-time.After(2 * time.Second):
		t.Fatal("rename was not propagated")
	}

	entry, ok := w.store.Get(NodeID("1"))
	require.True(t, ok)
	assert.Equal(t, "renamed.html", entry.Path)
}

func TestWatcher_CorrelateUpload_ReenqueuesUnderNewPath(t *testing.T) {
	orig := DeleteGrace
	DeleteGrace = time.Hour
	t.Cleanup(func() { DeleteGrace = orig })

	w, root, _ := newTestWatcher(t, &fakeAPIClient{})
	id := uploadNodeID("docs/report.pdf")
	content := []byte("pdf-bytes")
	w.store.Set(id, NodeMapEntry{Path: "docs/report.pdf", Checksum: checksum.Bytes(content)})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "report.pdf"), content, 0o644))
	w.handleRemove("docs/report.pdf")

	newAbs := filepath.Join(root, "docs", "renamed.pdf")
	require.NoError(t, os.WriteFile(newAbs, content, 0o644))

	fw := newFakeFsWatcher()
	w.handleCreate(context.Background(), fw, newAbs, "docs/renamed.pdf")

	_, stillTracked := w.store.Get(id)
	assert.False(t, stillTracked)

	w.queue.mu.Lock()
	_, queued := w.queue.timers["docs/renamed.pdf"]
	w.queue.mu.Unlock()
	assert.True(t, queued)
}
