package jobs

import (
	"sync"
	"time"
)

// Timer is the injectable sleep used by the distributor between empty
// sweeps. Sleep returns a channel that closes when the duration elapses;
// Cancel aborts any pending sleep without closing its channel.
type Timer interface {
	Sleep(d time.Duration) <-chan struct{}
	Cancel()
}

// WallTimer implements Timer over the runtime clock.
type WallTimer struct {
	mu      sync.Mutex
	pending *time.Timer
}

// NewWallTimer creates a Timer backed by time.Timer.
func NewWallTimer() *WallTimer {
	return &WallTimer{}
}

// Sleep schedules a wake-up after d. A second Sleep cancels the first.
func (t *WallTimer) Sleep(d time.Duration) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
	}
	done := make(chan struct{})
	t.pending = time.AfterFunc(d, func() {
		close(done)
	})
	return done
}

// Cancel stops the pending sleep, if any.
func (t *WallTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
