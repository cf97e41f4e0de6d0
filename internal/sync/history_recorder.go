package sync

import (
	"context"
	"log/slog"

	"github.com/foliosync/foliosync/internal/history"
)

// historyDBFileName is the supplemented mutation log (§11), stored
// alongside node-map.json and sync-state.json under .sync-meta/.
const historyDBFileName = "history.db"

// recordable reports whether kind is worth a row in the mutation log.
// Not every EventKind is a completed mutation: sync-start/stats/retry are
// progress signals, not history.
func recordable(kind EventKind) bool {
	return kind == EventFileSynced || kind == EventBackupCreated || kind == EventSyncConflict
}

// runHistoryRecorder drains sub until ctx is done, persisting every
// recordable event as a best-effort history row. A write failure is
// logged at Warn and dropped — history is observability, not sync state
// (§11), so it must never surface as a reconcile error.
func runHistoryRecorder(ctx context.Context, store *history.Store, sub <-chan Event, clock Clock, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}

			if !recordable(ev.Kind) {
				continue
			}

			m := history.Mutation{
				OccurredAtMillis: clock.Now().UnixMilli(),
				Action:           ev.Action,
				File:             ev.File,
				Message:          ev.Message,
			}

			if err := store.Record(ctx, m); err != nil {
				logger.Warn("history: recording mutation failed", slog.Any("error", err))
			}
		}
	}
}
