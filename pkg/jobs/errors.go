package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies input/config/payload validation failures.
	ErrValidation = errors.New("jobs validation error")
	// ErrQueueLocked classifies enqueue attempts on an exclusive queue with an active claim.
	ErrQueueLocked = errors.New("jobs queue locked")
	// ErrNotFound classifies missing logical resources (for example a job absent from its expected set).
	ErrNotFound = errors.New("jobs not found")
	// ErrStaleAck classifies acknowledges whose generation no longer matches the live job.
	ErrStaleAck = errors.New("jobs stale ack")
	// ErrRetryable classifies transient backend failures that may succeed on retry.
	ErrRetryable = errors.New("jobs retryable error")
	// ErrNotInitialized classifies missing repository/distributor initialization.
	ErrNotInitialized = errors.New("jobs not initialized")
	// ErrClosed classifies operations on an already closed component.
	ErrClosed = errors.New("jobs closed")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
