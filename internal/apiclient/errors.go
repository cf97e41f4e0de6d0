// Package apiclient implements a typed HTTP client for the remote content
// service: status/clock calibration, site and upload CRUD, and the SSE
// event stream. Every call makes exactly one network attempt — retry with
// backoff is the upload queue's responsibility (§4.3), not the client's.
package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	syncpkg "github.com/foliosync/foliosync/internal/sync"
)

// Sentinel errors for HTTP status code classification. Use errors.Is
// against these, or against the matching sync.Err* sentinel: APIError
// wraps both so callers in internal/sync can classify with their own
// taxonomy without importing this package's sentinels directly.
var (
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	ErrForbidden    = errors.New("apiclient: forbidden")
	ErrNotFound     = errors.New("apiclient: not found")
	ErrNameTaken    = errors.New("apiclient: name already taken")
	ErrConflict     = errors.New("apiclient: conflict")
	ErrServerError  = errors.New("apiclient: server error")
	ErrNetwork      = errors.New("apiclient: network error")
)

// syncSentinelFor maps a local sentinel to the internal/sync taxonomy
// sentinel the queue and reconciler classify against (§7), so a caller can
// errors.Is(err, sync.ErrNetwork) without knowing this package's own
// sentinels exist.
func syncSentinelFor(sentinel error) error {
	switch sentinel {
	case ErrUnauthorized, ErrForbidden:
		return syncpkg.ErrAuth
	case ErrNotFound:
		return syncpkg.ErrFileAccess
	case ErrNameTaken:
		return syncpkg.ErrNameTaken
	case ErrConflict:
		return syncpkg.ErrSyncConflict
	case ErrServerError, ErrNetwork:
		return syncpkg.ErrNetwork
	default:
		return syncpkg.ErrSyncConflict
	}
}

// APIError wraps a sentinel error with the HTTP status code and whatever
// diagnostic detail the server sent back, per §4.3's error body shape
// ({msg|message|error|details}).
type APIError struct {
	StatusCode  int
	Message     string
	Suggestions []string
	Err         error
}

func (e *APIError) Error() string {
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("apiclient: HTTP %d: %s (suggestions: %v)", e.StatusCode, e.Message, e.Suggestions)
	}

	return fmt.Sprintf("apiclient: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for 2xx. Name-taken is detected from the body text, not the status code
// alone (the server uses 409 for both name conflicts and other conflicts),
// so classifyStatus only picks the generic ErrConflict; newAPIError refines
// it to ErrNameTaken when the message matches.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrConflict
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return nil
	}
}

// newAPIError builds an *APIError from a status code and a parsed error
// body, refining ErrConflict to ErrNameTaken when the message names a
// taken/reserved name (§7's "already taken", "is reserved").
func newAPIError(statusCode int, message string, suggestions []string) *APIError {
	sentinel := classifyStatus(statusCode)
	if sentinel == nil {
		sentinel = ErrServerError
	}

	if sentinel == ErrConflict && looksLikeNameConflict(message) {
		sentinel = ErrNameTaken
	}

	return &APIError{
		StatusCode:  statusCode,
		Message:     message,
		Suggestions: suggestions,
		Err:         fmt.Errorf("%w: %w", sentinel, syncSentinelFor(sentinel)),
	}
}

func looksLikeNameConflict(message string) bool {
	lower := strings.ToLower(message)

	return strings.Contains(lower, "already taken") || strings.Contains(lower, "is reserved")
}
