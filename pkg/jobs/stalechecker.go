package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
)

const (
	// DefaultCheckInterval is the cadence of automatic stale scans.
	DefaultCheckInterval = 30 * time.Second

	timedOutMessage = "Job Timed Out"

	errorBufferSize = 64
)

// TimeoutError reports one job whose claim deadline passed without an
// acknowledge and whose retry budget is exhausted.
type TimeoutError struct {
	Tenant  string
	JobID   string
	QueueID string
	// TimestampForNextRetry is always nil on the errors Check emits:
	// jobs rescheduled by their retry policy emit no TimeoutError, and
	// their next run time reaches OnReclaim as StaleReport.NextRetryAt.
	TimestampForNextRetry *int64
}

// Error returns the fixed timeout message.
func (e *TimeoutError) Error() string {
	return timedOutMessage
}

// StaleCheckerConfig tunes stale detection. Manual disables the
// periodic driver so tests can call Check directly.
type StaleCheckerConfig struct {
	Interval time.Duration
	Manual   bool
}

func (c *StaleCheckerConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultCheckInterval
	}
}

// StaleChecker scans the processing sets for timed-out claims and
// reclaims them: jobs with retry budget left go back to scheduled
// quietly, the rest are removed and surfaced on the error channel.
type StaleChecker struct {
	repo   Repository
	log    logger.Logger
	config StaleCheckerConfig

	errs chan *TimeoutError

	// OnReclaim observes quiet retry reclaims; optional.
	OnReclaim func(report *StaleReport)

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewStaleChecker creates a checker over the repository.
func NewStaleChecker(repo Repository, log logger.Logger, cfg StaleCheckerConfig) (*StaleChecker, error) {
	if repo == nil {
		return nil, jobsError(ErrValidation, "repository is required")
	}
	if log == nil {
		return nil, jobsError(ErrValidation, "logger is required")
	}
	cfg.normalize()

	return &StaleChecker{
		repo:   repo,
		log:    log,
		config: cfg,
		errs:   make(chan *TimeoutError, errorBufferSize),
	}, nil
}

// Errors is the consumer-facing failure stream. Delivery drops when the
// buffer is full; timeouts are also logged.
func (c *StaleChecker) Errors() <-chan *TimeoutError {
	return c.errs
}

// Check runs one scan pass over every tenant and returns the timeout
// errors it emitted.
func (c *StaleChecker) Check(ctx context.Context) ([]*TimeoutError, error) {
	tenants, err := c.repo.Tenants(ctx)
	if err != nil {
		return nil, err
	}

	var emitted []*TimeoutError
	for _, tenant := range tenants {
		now, err := c.repo.ServerNow(ctx)
		if err != nil {
			return emitted, err
		}
		due, err := c.repo.DueProcessing(ctx, tenant, now)
		if err != nil {
			return emitted, err
		}
		for _, fingerprint := range due {
			report, err := c.repo.ReportStale(ctx, tenant, fingerprint, now)
			if err != nil {
				return emitted, err
			}
			if report == nil {
				// Another path won the race; nothing to do.
				continue
			}
			if report.Requeued {
				c.log.Warn("reclaimed stale job for retry",
					"tenant", report.Tenant, "queue", report.Queue, "job_id", report.ID,
					"next_retry_at", report.NextRetryAt)
				if c.OnReclaim != nil {
					c.OnReclaim(report)
				}
				continue
			}
			timeoutErr := &TimeoutError{
				Tenant:  report.Tenant,
				JobID:   report.ID,
				QueueID: report.Queue,
			}
			emitted = append(emitted, timeoutErr)
			c.emit(timeoutErr)
		}
	}
	return emitted, nil
}

// Start runs the periodic driver unless configured manual. It returns
// immediately; Stop ends the driver.
func (c *StaleChecker) Start(ctx context.Context) {
	if c.config.Manual {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := c.Check(runCtx); err != nil {
					c.log.Warn("stale check failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the periodic driver and waits for the current pass.
func (c *StaleChecker) Stop() {
	c.lifecycleMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifecycleMu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *StaleChecker) emit(timeoutErr *TimeoutError) {
	c.log.Error("job timed out",
		"tenant", timeoutErr.Tenant, "queue", timeoutErr.QueueID, "job_id", timeoutErr.JobID)
	select {
	case c.errs <- timeoutErr:
	default:
		c.log.Warn("timeout error buffer full, dropping event",
			"tenant", timeoutErr.Tenant, "job_id", timeoutErr.JobID)
	}
}
