package lockss

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a node, file, version or AU does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVerificationUnavailable is returned when checksum verification
	// cannot run because no usable digest algorithm is configured.
	ErrVerificationUnavailable = errors.New("verification unavailable")

	// ErrNoSpace is returned when every candidate collection is at or
	// above its full threshold.
	ErrNoSpace = errors.New("no repository collection has space")

	// ErrQueueFull is returned when the repair queue will not accept more requests.
	ErrQueueFull = errors.New("repair queue full")
)

// RepositoryError is the single error kind for backing-store failures.
// Callers treat every RepositoryError alike, whichever of the metadata
// database or blob collections produced it.
type RepositoryError struct {
	Op  string
	URL string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("repository %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// IsRepositoryError reports whether err is or wraps a *RepositoryError.
func IsRepositoryError(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

// FetchErrorKind classifies fetch failures. Only FetchPermissionDenied
// triggers an alternate-address retry.
type FetchErrorKind int

const (
	FetchOther FetchErrorKind = iota
	FetchPermissionDenied
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchPermissionDenied:
		return "permission denied"
	default:
		return "other"
	}
}

// FetchError describes a failed fetch of a publisher URL.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetching %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsPermissionDenied reports whether err is a FetchError of kind FetchPermissionDenied.
func IsPermissionDenied(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchPermissionDenied
}
