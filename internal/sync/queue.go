package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/foliosync/foliosync/pkg/checksum"
)

// Queue is a debounced, single-flight FIFO of pending uploads (§4.8).
// Duplicate enqueues of the same relative path collapse into one entry; a
// drain is single-flighted per key so a retry and a fresh enqueue for the
// same file never race each other's network call.
type Queue struct {
	root     string
	deviceID string
	api      APIClient
	store    *Store
	cache    *Cache
	bus      *Bus
	clock    Clock
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	group singleflight.Group
}

// NewQueue creates a Queue. clock defaults to RealClock.
func NewQueue(root, deviceID string, api APIClient, store *Store, cache *Cache, bus *Bus, clock Clock, logger *slog.Logger) *Queue {
	if clock == nil {
		clock = RealClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		root:     root,
		deviceID: deviceID,
		api:      api,
		store:    store,
		cache:    cache,
		bus:      bus,
		clock:    clock,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// EnqueueUpload schedules relPath for upload after QueueDebounce, collapsing
// any already-pending timer for the same path (§4.8).
func (q *Queue) EnqueueUpload(relPath string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, exists := q.timers[relPath]; exists {
		t.Stop()
	}

	q.timers[relPath] = time.AfterFunc(QueueDebounce, func() {
		q.drain(relPath)
	})
}

// Clear cancels every pending debounce timer, for deterministic shutdown
// (§4.8: "Timers are tracked so Clear() on stop deterministically cancels
// them").
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for path, t := range q.timers {
		t.Stop()
		delete(q.timers, path)
	}
}

func (q *Queue) drain(relPath string) {
	q.mu.Lock()
	delete(q.timers, relPath)
	q.mu.Unlock()

	traceID := uuid.NewString()
	logger := q.logger.With(slog.String("trace", traceID), slog.String("path", relPath))

	_, _, _ = q.group.Do(relPath, func() (any, error) {
		q.attempt(context.Background(), relPath, logger, 0)

		return nil, nil
	})
}

// fixedSchedule implements retry.Backoff over RetrySchedule: 2s, 10s, 30s,
// then stop, matching §4.8's "fixed-schedule backoff" wording rather than
// the library's usual exponential helper.
type fixedSchedule struct {
	idx int
}

func (f *fixedSchedule) Next() (time.Duration, bool) {
	if f.idx >= len(RetrySchedule) {
		return 0, false
	}

	d := RetrySchedule[f.idx]
	f.idx++

	return d, true
}

// attempt drives one upload try plus up to MaxRetries retries (one per
// RetrySchedule entry) through retry.Do, re-checking
// the source file's existence on every try (§4.8). A permanent failure (the
// schedule exhausts, or the error isn't retryable) surfaces a sync-failed
// event; each retryable failure surfaces a sync-retry event first.
func (q *Queue) attempt(ctx context.Context, relPath string, logger *slog.Logger, _ int) {
	err := retry.Do(ctx, &fixedSchedule{}, func(ctx context.Context) error {
		tryErr := q.tryUpload(ctx, relPath, logger)
		if tryErr == nil {
			return nil
		}

		if !Retryable(tryErr) {
			return tryErr
		}

		logger.Warn("upload failed, retrying", slog.Any("error", tryErr))
		q.bus.Publish(Event{Kind: EventSyncRetry, Priority: PriorityMedium, File: relPath, Action: "upload", Message: tryErr.Error()})

		return retry.RetryableError(tryErr)
	})
	if err != nil {
		logger.Warn("upload failed permanently", slog.Any("error", err))
		q.bus.Publish(Event{Kind: EventSyncFailed, Priority: PriorityHigh, File: relPath, Action: "upload", Message: err.Error()})
	}
}

// tryUpload performs a single upload attempt: re-stat (a vanished source
// file stops further retries), local validation, checksum-skip check, then
// the network call.
func (q *Queue) tryUpload(ctx context.Context, relPath string, logger *slog.Logger) error {
	absPath := filepath.Join(q.root, filepath.FromSlash(relPath))

	info, err := os.Stat(absPath)
	if err != nil {
		logger.Info("upload source vanished, dropping retry entry")

		return nil
	}

	kind := classifyKind(relPath)

	if r := ValidatePath(relPath, kind); !r.Valid {
		return fmt.Errorf("%s: %w", r.Reason, ErrValidation)
	}

	if r := ValidateUploadSize(info.Size()); !r.Valid {
		return fmt.Errorf("%s: %w", r.Reason, ErrValidation)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("sync: reading upload source %s: %w", relPath, err)
	}

	sum := checksum.Bytes(content)

	if skipped, skipErr := q.checksumSkip(ctx, relPath, kind, sum); skipErr == nil && skipped {
		q.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "skip-unchanged"})

		return nil
	}

	if err := q.upload(ctx, relPath, kind, content, info.ModTime()); err != nil {
		return err
	}

	q.cache.Invalidate()
	q.bus.Publish(Event{Kind: EventFileSynced, File: relPath, Action: "upload"})

	return nil
}

// checksumSkip consults the sites cache without forcing a refresh (§4.8).
// Uploads (non-HTML) have no equivalent name+checksum shortcut, since the
// uploads cache is keyed by path rather than filename, and a path match
// already implies the file was found via GetByPath; only sites skip here.
func (q *Queue) checksumSkip(ctx context.Context, relPath string, kind NodeKind, sum string) (bool, error) {
	if kind != KindSite {
		return false, nil
	}

	filename := strings.TrimSuffix(filepath.Base(relPath), ".html")

	return q.cache.SiteChecksum(ctx, filename, sum)
}

func (q *Queue) upload(ctx context.Context, relPath string, kind NodeKind, content []byte, modTime time.Time) error {
	if backed, err := BackupIfExists(q.root, relPath, kind, q.clock.Now()); err != nil {
		q.logger.Warn("backup before upload failed", slog.String("path", relPath), slog.Any("error", err))
	} else if backed {
		q.bus.Publish(Event{Kind: EventBackupCreated, File: relPath, Action: "upload"})
	}

	if kind == KindUpload {
		if err := q.api.UploadUpload(ctx, UploadUploadRequest{Path: relPath, Content: content, ModifiedAt: modTime}); err != nil {
			return err
		}

		entry := NodeMapEntry{Path: relPath, Checksum: checksum.Bytes(content)}
		if inode, ok := Inode(filepath.Join(q.root, filepath.FromSlash(relPath))); ok {
			entry.Inode = &inode
		}

		q.store.Set(uploadNodeID(relPath), entry)

		return nil
	}

	filename := strings.TrimSuffix(filepath.Base(relPath), ".html")

	result, err := q.api.Upload(ctx, UploadRequest{
		Filename:   filename,
		Content:    string(content),
		ModifiedAt: modTime,
		SenderID:   q.deviceID,
	})
	if err != nil {
		return err
	}

	sum := checksum.Bytes(content)
	entry := NodeMapEntry{Path: relPath, Checksum: sum}

	if inode, ok := Inode(filepath.Join(q.root, filepath.FromSlash(relPath))); ok {
		entry.Inode = &inode
	}

	q.store.Set(result.NodeID, entry)

	return nil
}
