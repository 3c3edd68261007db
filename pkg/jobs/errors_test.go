package jobs

import (
	"errors"
	"testing"
)

func TestJobsErrorWrapping(t *testing.T) {
	err := jobsError(ErrQueueLocked, "queue busy")
	if !errors.Is(err, ErrQueueLocked) {
		t.Fatalf("wrapped error must match its kind: %v", err)
	}
	if err.Error() != "jobs queue locked: queue busy" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if jobsError(ErrNotFound, "") != ErrNotFound {
		t.Fatal("empty message must return the kind unchanged")
	}
}
