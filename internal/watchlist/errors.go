package watchlist

import "errors"

var (
	// ErrInvalidInput marks malformed caller input, rejected before any write.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateURL is returned when inserting a URL that is already tracked.
	ErrDuplicateURL = errors.New("duplicate url")
	// ErrNotFound is returned when an item or routine does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoRoutine is returned when an item's domain has no extraction routine.
	ErrNoRoutine = errors.New("no extraction routine")
	// ErrExtractionFailed is returned when no valid observation could be produced.
	ErrExtractionFailed = errors.New("extraction failed")
)
