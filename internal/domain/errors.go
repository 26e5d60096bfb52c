package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// Sentinel error kinds. Typed errors below match these via errors.Is.
var (
	ErrEndpointUnavailable   = errors.New("upstream endpoint unavailable")
	ErrUpstreamRequestFailed = errors.New("upstream request failed")
	ErrCategorySyncFailed    = errors.New("category sync failed")
	ErrPolygonUnavailable    = errors.New("polygon unavailable")
	ErrStorageWriteFailed    = errors.New("storage write failed")
	ErrSyncFailed            = errors.New("sync failed")
	ErrNotFound              = errors.New("not found")
)

// ProbeFailure is the reason a single candidate endpoint was rejected.
type ProbeFailure struct {
	BaseURL string `json:"base_url"`
	Reason  string `json:"reason"`
}

func (f ProbeFailure) String() string {
	return f.BaseURL + ": " + f.Reason
}

// EndpointUnavailableError lists every candidate that was probed and why it failed.
type EndpointUnavailableError struct {
	Failures []ProbeFailure
}

func (e *EndpointUnavailableError) Error() string {
	if len(e.Failures) == 0 {
		return "no upstream endpoint available: no candidates configured"
	}
	return "no upstream endpoint available: " + strings.Join(e.Reasons(), "; ")
}

func (e *EndpointUnavailableError) Is(target error) bool {
	return target == ErrEndpointUnavailable
}

// Reasons returns the per-candidate failures in probe order, formatted "<candidate>: <reason>".
func (e *EndpointUnavailableError) Reasons() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.String()
	}
	return out
}

// UpstreamError is a failed call to the upstream API. StatusCode is zero for
// transport-level failures, in which case Err holds the cause.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamRequestFailed
}

// Retryable reports whether repeating the call could succeed.
func (e *UpstreamError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CategoryError is a failure to fetch, normalize, or persist one category for one polygon.
type CategoryError struct {
	PolygonID string
	Category  Category
	Err       error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("sync %s for polygon %s: %v", e.Category, e.PolygonID, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

func (e *CategoryError) Is(target error) bool {
	return target == ErrCategorySyncFailed
}

// PolygonUnavailableError means the upstream polygon for a parcel could not be materialized.
type PolygonUnavailableError struct {
	ParcelID string
	Err      error
}

func (e *PolygonUnavailableError) Error() string {
	return fmt.Sprintf("polygon unavailable for parcel %s: %v", e.ParcelID, e.Err)
}

func (e *PolygonUnavailableError) Unwrap() error { return e.Err }

func (e *PolygonUnavailableError) Is(target error) bool {
	return target == ErrPolygonUnavailable
}

// StorageError is a failed store write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageWriteFailed
}

// SyncFailedError is returned when every category of a polygon sync failed.
type SyncFailedError struct {
	ParcelID string
	Failures map[Category]error
}

func (e *SyncFailedError) Error() string {
	cats := make([]string, 0, len(e.Failures))
	for c := range e.Failures {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = c + ": " + e.Failures[Category(c)].Error()
	}
	return fmt.Sprintf("all categories failed for parcel %s: %s", e.ParcelID, strings.Join(parts, "; "))
}

func (e *SyncFailedError) Is(target error) bool {
	return target == ErrSyncFailed
}

// FailureReason renders an error as a short operator-facing reason:
// "timeout" for deadline and network timeouts, "<code> <status text>" for
// upstream HTTP statuses, and the error text otherwise.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return fmt.Sprintf("%d %s", upErr.StatusCode, http.StatusText(upErr.StatusCode))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}

// UpstreamStatus extracts the upstream HTTP status carried by err, or zero.
func UpstreamStatus(err error) int {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}
