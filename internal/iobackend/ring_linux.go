//go:build linux

package iobackend

import (
	"fmt"
	"os"

	iouring "github.com/iceber/iouring-go"
)

// Ring is the Linux io_uring-backed async backend. Each read or write
// submits a single SQE and blocks on its completion; short transfers are
// resubmitted until the full length has been transferred. A sync is issued
// after a batch of writes or on explicit request.
type Ring struct {
	file      *os.File
	iour      *iouring.IOURing
	alignment int
}

// RingConfig configures the ring backend.
type RingConfig struct {
	QueueDepth uint32
	UseSQPoll  bool
	UseIOPoll  bool
}

// OpenRing opens path and sets up an io_uring instance with the given queue depth.
func OpenRing(path string, cfg RingConfig) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	depth := cfg.QueueDepth
	if depth == 0 {
		depth = 128
	}

	var opts []iouring.IOURingOption
	if cfg.UseSQPoll {
		opts = append(opts, iouring.WithSQPoll(1000))
	}

	iour, err := iouring.New(depth, opts...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("iobackend: io_uring setup: %w", err)
	}

	return &Ring{file: f, iour: iour, alignment: 1}, nil
}

// ReadAt implements Backend, looping short reads until length bytes are filled.
func (r *Ring) ReadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	got := 0
	for got < length {
		resultCh := make(chan iouring.Result, 1)
		req := iouring.Pread(int(r.file.Fd()), buf[got:], uint64(offset)+uint64(got))
		if _, err := r.iour.SubmitRequest(req, resultCh); err != nil {
			return nil, fmt.Errorf("iobackend: submit read: %w", err)
		}
		res := <-resultCh
		n, err := res.ReturnValue()
		if err != nil {
			return nil, fmt.Errorf("iobackend: ring read: %w", err)
		}
		if n <= 0 {
			break
		}
		got += n
	}
	return buf[:got], nil
}

// WriteAt implements Backend, looping short writes until all of data is written.
func (r *Ring) WriteAt(offset int64, data []byte) error {
	done := 0
	for done < len(data) {
		resultCh := make(chan iouring.Result, 1)
		req := iouring.Pwrite(int(r.file.Fd()), data[done:], uint64(offset)+uint64(done))
		if _, err := r.iour.SubmitRequest(req, resultCh); err != nil {
			return fmt.Errorf("iobackend: submit write: %w", err)
		}
		res := <-resultCh
		n, err := res.ReturnValue()
		if err != nil {
			return fmt.Errorf("iobackend: ring write: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("iobackend: ring write: no progress")
		}
		done += n
	}
	return nil
}

// Sync implements Backend.
func (r *Ring) Sync() error { return r.file.Sync() }

// Alignment implements Backend. The ring backend does not itself require
// aligned requests; OpenRing opens the file without O_DIRECT and RingConfig
// has no option to enable it.
func (r *Ring) Alignment() int { return r.alignment }

// DirectIOEnabled implements Backend.
func (r *Ring) DirectIOEnabled() bool { return false }

// Close implements Backend.
func (r *Ring) Close() error {
	r.iour.Close()
	return r.file.Close()
}
