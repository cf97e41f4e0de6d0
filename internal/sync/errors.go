package sync

import "errors"

// Sentinel errors for the taxonomy in the error handling design. Use
// errors.Is against these; apiclient.APIError and local validation errors
// wrap the matching sentinel.
var (
	ErrAuth         = errors.New("sync: authentication failed")
	ErrNameTaken    = errors.New("sync: name already taken")
	ErrNetwork      = errors.New("sync: network error")
	ErrFileAccess   = errors.New("sync: file access denied")
	ErrSyncConflict = errors.New("sync: conflict reported by server")
	ErrValidation   = errors.New("sync: validation failed")
)

// ErrorTier classifies how the propagation policy should treat an error.
type ErrorTier int

const (
	// TierRetryable: the queue should retry per the fixed backoff schedule.
	TierRetryable ErrorTier = iota
	// TierSurface: non-retryable; record and emit an event, move on.
	TierSurface
	// TierFatal: abort the in-progress phase/reconcile entirely.
	TierFatal
)

// Classify maps an error to its propagation tier per §7.
func Classify(err error) ErrorTier {
	switch {
	case errors.Is(err, ErrAuth):
		return TierFatal
	case errors.Is(err, ErrNameTaken),
		errors.Is(err, ErrFileAccess),
		errors.Is(err, ErrSyncConflict),
		errors.Is(err, ErrValidation):
		return TierSurface
	case errors.Is(err, ErrNetwork):
		return TierRetryable
	default:
		return TierSurface
	}
}

// Retryable reports whether err should be retried by the queue drainer.
func Retryable(err error) bool {
	return Classify(err) == TierRetryable
}
