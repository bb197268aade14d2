package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared by the server, the client and the transports.
// Callers match them with errors.Is; adapters wrap them with context.
var (
	// ErrNotFound means the room or the counter row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller is not an active member of a private room.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized means no identity was supplied.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput means a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNetwork means the server could not be reached; the operation may be retried.
	ErrNetwork = errors.New("network unavailable")
	// ErrConflict means the resource already exists.
	ErrConflict = errors.New("conflict")
	// ErrBatchTooLarge means a request carried more than the server accepts.
	// The same taps may be resent in smaller requests.
	ErrBatchTooLarge = errors.New("batch too large")
)

// BatchLimitError is an ErrBatchTooLarge that names the server's bulk
// limit. Max is zero when the limit is unknown.
type BatchLimitError struct {
	Max int
}

func (e *BatchLimitError) Error() string {
	if e.Max <= 0 {
		return ErrBatchTooLarge.Error()
	}
	return fmt.Sprintf("%v: at most %d taps per request", ErrBatchTooLarge, e.Max)
}

func (e *BatchLimitError) Is(target error) bool { return target == ErrBatchTooLarge }
