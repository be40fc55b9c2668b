package util

import "errors"

// Sentinel errors for the failure classes the sync engine distinguishes.
// Callers wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrSchema indicates a malformed catalog line or an id that breaks the dense 1..N run
	ErrSchema = errors.New("schema error")

	// ErrConsistency indicates catalog and files disagree in a way that must not be auto-repaired
	ErrConsistency = errors.New("consistency error")

	// ErrUnresolved indicates a song that no location can supply
	ErrUnresolved = errors.New("unresolved")

	// ErrTransport indicates a single backend operation failed
	ErrTransport = errors.New("transport error")

	// ErrPersistence indicates the catalog could not be saved
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrLocked indicates another invocation holds the catalog lock
	ErrLocked = errors.New("catalog locked")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
