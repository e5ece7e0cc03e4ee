//go:build !linux

package iobackend

import "os"

// directIOSupported is false on platforms without O_DIRECT.
const directIOSupported = false

// Direct falls back to a buffered backend on platforms without O_DIRECT
// support; DirectIOEnabled reports false so callers know no bypass occurred.
type Direct struct {
	*Buffered
}

// OpenDirect opens path normally (O_DIRECT is unavailable on this platform).
func OpenDirect(path string, alignment int) (*Direct, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &Direct{Buffered: NewBuffered(f)}, nil
}
