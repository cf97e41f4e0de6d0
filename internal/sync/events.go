package sync

import "time"

// EventKind enumerates the events exposed to the shell (§6). Replaces the
// source ecosystem's event-emitter with a typed tagged value fanned out
// over a channel, per the design note in §9.
type EventKind int

const (
	EventSyncStart EventKind = iota
	EventSyncComplete
	EventSyncError
	EventSyncWarning
	EventSyncStats
	EventSyncRetry
	EventSyncFailed
	EventFileSynced
	EventBackupCreated
	EventSyncConflict
)

func (k EventKind) String() string {
	switch k {
	case EventSyncStart:
		return "sync-start"
	case EventSyncComplete:
		return "sync-complete"
	case EventSyncError:
		return "sync-error"
	case EventSyncWarning:
		return "sync-warning"
	case EventSyncStats:
		return "sync-stats"
	case EventSyncRetry:
		return "sync-retry"
	case EventSyncFailed:
		return "sync-failed"
	case EventFileSynced:
		return "file-synced"
	case EventBackupCreated:
		return "backup-created"
	case EventSyncConflict:
		return "sync-conflict"
	default:
		return "unknown"
	}
}

// Priority mirrors the error taxonomy's severity (§7) so the shell can
// render a prioritized queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Event is the structured payload fanned out to subscribers. Not every
// field applies to every kind; zero values are omitted by convention.
type Event struct {
	Kind        EventKind
	At          time.Time
	Priority    Priority
	File        string
	Action      string
	Message     string
	Suggestions []string
	Stats       Stats
}

// Stats accumulates reconcile-cycle counters, named after the phases in
// §4.5 and the literal scenarios in §8.
type Stats struct {
	FilesDownloaded        int
	FilesDownloadedSkipped int
	FilesUploaded          int
	FilesMoved             int
	FilesRenamed           int
	FilesDeleted           int
	FilesProtected         int
	DuplicateFilenames     int
	Errors                 int
}

// Bus fans Events out to subscribers registered at start. It never blocks a
// publisher: a subscriber whose channel is full misses the event, trading
// delivery guarantees for the single-process cooperative-scheduling model
// of §5 (no subsystem may stall waiting on the shell).
type Bus struct {
	subscribers []chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new receiver and returns its channel. Buffered so a
// short burst of events (e.g. a reconcile phase) doesn't immediately drop.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subscribers = append(b.subscribers, ch)

	return ch
}

// Publish fans ev out to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
