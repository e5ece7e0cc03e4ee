package engine

import "errors"

var (
	// ErrNotFound is returned by Lookup and Remove when the key is not present.
	ErrNotFound = errors.New("engine: key not found")
	// ErrChecksumMismatch is returned by Lookup when a stored entry fails
	// checksum verification and no backup is available for repair.
	ErrChecksumMismatch = errors.New("engine: checksum mismatch")
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("engine: cache is closed")
)
