package queue

import "errors"

// Sentinel errors for submitters that need more than Enqueue's bool.
var (
	ErrStopped = errors.New("queue stopped")
	ErrFull    = errors.New("queue full")
)
