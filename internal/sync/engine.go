package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foliosync/foliosync/internal/history"
)

// Engine owns every subsystem — store, cache, pending-actions, watcher, SSE
// client, queue, reconciler, event bus — and is the single point that
// starts and stops them together. This is the "one owning engine struct"
// design note in §9: the watcher, queue, and SSE client all reference state
// the engine composes, rather than referencing each other directly.
type Engine struct {
	root   string
	api    APIClient
	logger *slog.Logger
	clock  Clock

	Store    *Store
	Cache    *Cache
	Pending  *PendingActions
	Bus      *Bus
	Queue    *Queue
	Watcher  *Watcher
	Realtime *Realtime
	History  *history.Store

	reconciler *Reconciler

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	historyCancel context.CancelFunc

	ttlTicker *time.Ticker
}

// NewEngine wires every subsystem together for syncDir, using deviceID to
// suppress self-originated live-sync/pending-action echoes. clock defaults
// to RealClock.
func NewEngine(syncDir, deviceID string, api APIClient, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = RealClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	store, _ := Load(syncDir, logger)
	cache := NewCache(api, clock)
	pending := NewPendingActions(clock)
	bus := NewBus()
	queue := NewQueue(syncDir, deviceID, api, store, cache, bus, clock, logger)
	watcher := NewWatcher(syncDir, api, store, pending, queue, bus, clock, logger)
	reconciler := NewReconciler(syncDir, deviceID, api, store, cache, pending, queue, bus, clock, logger)

	e := &Engine{
		root:       syncDir,
		api:        api,
		logger:     logger,
		clock:      clock,
		Store:      store,
		Cache:      cache,
		Pending:    pending,
		Bus:        bus,
		Queue:      queue,
		Watcher:    watcher,
		reconciler: reconciler,
	}

	e.Realtime = NewRealtime(syncDir, deviceID, api, store, pending, cache, bus, clock, logger, e.triggerReconcile)

	e.startHistoryRecorder()

	return e
}

// startHistoryRecorder opens the supplemented mutation log (§11) and starts
// draining the bus into it. Opening the database is itself best-effort: a
// failure (e.g. a read-only filesystem) is logged and the engine proceeds
// with History left nil, since the log is observability, not sync state.
func (e *Engine) startHistoryRecorder() {
	dbPath := metaPath(e.root, historyDBFileName)

	if err := os.MkdirAll(filepath.Dir(dbPath), metaDirPerm); err != nil {
		e.logger.Warn("history: creating .sync-meta directory failed", slog.Any("error", err))

		return
	}

	store, err := history.Open(dbPath, e.logger)
	if err != nil {
		e.logger.Warn("history: opening history database failed", slog.Any("error", err))

		return
	}

	e.History = store

	historyCtx, cancel := context.WithCancel(context.Background())
	e.historyCancel = cancel

	sub := e.Bus.Subscribe(32)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		runHistoryRecorder(historyCtx, store, sub, e.clock, e.logger)
	}()
}

// RunOnce performs a single reconcile cycle without starting the watcher,
// SSE client, or any background timer — the non-watch CLI invocation.
func (e *Engine) RunOnce(ctx context.Context, opts ReconcileOptions) (SyncReport, error) {
	return e.reconciler.Run(ctx, opts)
}

// Start begins the daemon mode described in §5: watcher loop, SSE loop, and
// the pending-actions TTL sweep, after an initial reconcile. Returns once
// every goroutine has been launched; Close blocks until they all exit.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.RunOnce(ctx, ReconcileOptions{Mode: ModeFull}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)

	go func() {
		defer e.wg.Done()

		if err := e.Watcher.Run(runCtx); err != nil {
			e.logger.Warn("watcher stopped", slog.Any("error", err))
		}
	}()

	go func() {
		defer e.wg.Done()

		e.Realtime.Run(runCtx)
	}()

	e.ttlTicker = time.NewTicker(PendingActionsTTL)
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-e.ttlTicker.C:
				e.Pending.Sweep()
			}
		}
	}()

	return nil
}

// triggerReconcile is passed to the Realtime client as its stale-stream
// callback (§4.7's SSE watchdog).
func (e *Engine) triggerReconcile() {
	if _, err := e.RunOnce(context.Background(), ReconcileOptions{Mode: ModeFull}); err != nil {
		e.logger.Warn("watchdog-triggered reconcile failed", slog.Any("error", err))
	}
}

// Close cancels every background goroutine, clears pending queue timers,
// invalidates the caches, and blocks until everything has actually stopped
// (§5 Cancellation).
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}

	if e.ttlTicker != nil {
		e.ttlTicker.Stop()
	}

	if e.historyCancel != nil {
		e.historyCancel()
	}

	e.Queue.Clear()
	e.Cache.Invalidate()
	e.wg.Wait()

	if e.History != nil {
		if err := e.History.Close(); err != nil {
			e.logger.Warn("history: closing history database failed", slog.Any("error", err))
		}
	}
}
