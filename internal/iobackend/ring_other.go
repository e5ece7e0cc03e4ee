//go:build !linux

package iobackend

import "errors"

// RingConfig configures the ring backend (no-op outside Linux).
type RingConfig struct {
	QueueDepth uint32
	UseSQPoll  bool
	UseIOPoll  bool
}

// OpenRing is unavailable outside Linux; callers should fall back to
// another backend when this returns an error.
func OpenRing(path string, cfg RingConfig) (*Buffered, error) {
	return nil, errors.New("iobackend: io_uring backend requires linux")
}
