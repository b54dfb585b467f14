package pool

import "errors"

// Errors
var (
	// ErrCapacity means every connection is full and the pool is at its
	// connection limit.
	ErrCapacity = errors.New("pool at capacity")

	// ErrSubscribe means the subscribe request could not be issued, or the
	// connection it was queued on failed to open.
	ErrSubscribe = errors.New("subscribe failed")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("pool closed")

	ErrNotStarted     = errors.New("pool not started")
	ErrAlreadyStarted = errors.New("pool already started")
)
