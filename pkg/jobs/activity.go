package jobs

import (
	"context"
	"sync"

	"github.com/owlmq/owlmq/pkg/observability/logger"
)

// Activity re-emits lifecycle events from the backing store's pub/sub
// channels to a user callback. Delivery is best-effort and never used
// for correctness.
type Activity struct {
	notifier Notifier
	log      logger.Logger

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	stop        func() error
	wg          sync.WaitGroup
}

// NewActivity creates an activity stream over the notifier.
func NewActivity(notifier Notifier, log logger.Logger) (*Activity, error) {
	if notifier == nil {
		return nil, jobsError(ErrValidation, "notifier is required")
	}
	if log == nil {
		return nil, jobsError(ErrValidation, "logger is required")
	}
	return &Activity{notifier: notifier, log: log}, nil
}

// Start subscribes and pushes every event to callback until Close.
func (a *Activity) Start(ctx context.Context, callback func(event ActivityEvent)) error {
	if callback == nil {
		return jobsError(ErrValidation, "callback is required")
	}

	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.cancel != nil {
		return jobsError(ErrValidation, "activity already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, stop, err := a.notifier.SubscribeActivity(runCtx)
	if err != nil {
		cancel()
		return err
	}
	a.cancel = cancel
	a.stop = stop

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case event, open := <-events:
				if !open {
					return
				}
				callback(event)
			}
		}
	}()
	return nil
}

// Close releases the subscription and waits for the dispatch loop.
func (a *Activity) Close() error {
	a.lifecycleMu.Lock()
	cancel := a.cancel
	stop := a.stop
	a.cancel = nil
	a.stop = nil
	a.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	var stopErr error
	if stop != nil {
		stopErr = stop()
	}
	a.wg.Wait()
	return stopErr
}
