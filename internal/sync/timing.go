package sync

import "time"

// Timing constants from the design. Expressed as vars rather than untyped
// consts so tests can shrink them for speed without touching call sites.
var (
	DeleteGrace          = 500 * time.Millisecond
	QueueDebounce        = 500 * time.Millisecond
	PendingActionsTTL    = 30 * time.Second
	SnapshotFreshness    = 30 * time.Second
	SSEWatchdogInterval  = 60 * time.Second
	SSESilenceThreshold  = 5 * time.Minute
	SSEReconnectDelay    = 5 * time.Second
	ClockSkewBuffer      = 10 * time.Second
	FutureFileThreshold  = 60 * time.Second
)

// RetrySchedule is the fixed backoff schedule for upload retries. Index i is
// the delay before attempt i+1 (0-indexed retries, not counting the first
// attempt).
var RetrySchedule = []time.Duration{
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// MaxRetries bounds the number of retries after the initial attempt.
var MaxRetries = len(RetrySchedule)
