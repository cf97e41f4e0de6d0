package sync

import (
	"fmt"
	"sync"
	"time"
)

// pendingActionKind is the mutation kind a pending-actions token suppresses
// an echo for (§3 Pending-actions set).
type pendingActionKind string

const (
	pendingDelete pendingActionKind = "delete"
	pendingRename pendingActionKind = "rename"
	pendingMove   pendingActionKind = "move"
)

func pendingToken(kind pendingActionKind, id NodeID) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// PendingActions tracks client-initiated mutations so the matching SSE echo
// can be suppressed instead of re-applied locally (§3, §4.7, invariant I4).
// A token is inserted synchronously before the mutating network call starts
// (§5's ordering guarantee) and consumed exactly once when the echo arrives.
// Unconsumed tokens are swept after PendingActionsTTL so a lost or
// never-delivered echo doesn't leak memory.
type PendingActions struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]time.Time
}

// NewPendingActions creates an empty set. clock defaults to RealClock.
func NewPendingActions(clock Clock) *PendingActions {
	if clock == nil {
		clock = RealClock
	}

	return &PendingActions{clock: clock, entries: make(map[string]time.Time)}
}

// Insert records a pending token for kind/id, to be called synchronously
// before the corresponding mutating API call (§5).
func (p *PendingActions) Insert(kind pendingActionKind, id NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[pendingToken(kind, id)] = p.clock.Now()
}

// Consume reports whether a pending token exists for kind/id and, if so,
// removes it — the "consumed exactly once" rule in §4.7.
func (p *PendingActions) Consume(kind pendingActionKind, id NodeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := pendingToken(kind, id)

	if _, ok := p.entries[token]; !ok {
		return false
	}

	delete(p.entries, token)

	return true
}

// Sweep removes any token older than PendingActionsTTL. Called every 30s
// by the engine's TTL timer (§3).
func (p *PendingActions) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()

	for token, insertedAt := range p.entries {
		if now.Sub(insertedAt) > PendingActionsTTL {
			delete(p.entries, token)
		}
	}
}

// Len reports the number of outstanding tokens (tests and diagnostics).
func (p *PendingActions) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}
