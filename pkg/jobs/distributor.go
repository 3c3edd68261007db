package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
)

const (
	// DefaultPollInterval is the sleep between sweeps when a sweep
	// dispatched no job.
	DefaultPollInterval = time.Second
	// DefaultMaxJobs caps in-flight work per distributor.
	DefaultMaxJobs = 1
)

// TenantSource yields the tenant rotation for one sweep. Each pull
// restarts the rotation, so sources may grow or shrink between sweeps.
type TenantSource interface {
	Tenants(ctx context.Context) ([]string, error)
}

// StaticTenants is a fixed tenant rotation.
type StaticTenants []string

// Tenants returns the rotation unchanged.
func (s StaticTenants) Tenants(context.Context) ([]string, error) {
	return s, nil
}

// RepositoryTenants discovers the rotation from the repository's tenant
// registry on every sweep.
type RepositoryTenants struct {
	Repo Repository
}

// Tenants lists the repository's known tenants.
func (r RepositoryTenants) Tenants(ctx context.Context) ([]string, error) {
	return r.Repo.Tenants(ctx)
}

// FetchFunc claims work for one tenant. Errors are fatal to the
// distributor; Retry advances the rotation past a tenant that is
// temporarily blocked.
type FetchFunc func(ctx context.Context, tenant string) (Outcome, error)

// WorkFunc processes one claimed job. Returned errors go to the error
// sink; the job stays in processing for the stale checker to reclaim.
type WorkFunc func(ctx context.Context, job *Job, tenant string) error

// ErrorSink receives processor failures. The default sink logs them.
type ErrorSink interface {
	Report(err error)
}

type loggerSink struct {
	log logger.Logger
}

func (s loggerSink) Report(err error) {
	s.log.Error("job processing failed", "error", err)
}

// DistributorConfig tunes the fetch/dispatch loop.
type DistributorConfig struct {
	MaxJobs      int
	PollInterval time.Duration
}

func (c *DistributorConfig) normalize() {
	if c.MaxJobs <= 0 {
		c.MaxJobs = DefaultMaxJobs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Distributor coordinates fetching and dispatching for one worker. It
// sweeps the tenant rotation round-robin, holds at most MaxJobs jobs in
// flight, and backs off to the poll interval when a sweep of the
// rotation dispatched no job (every tenant came back empty, retry or
// wait). A wake signal cancels the backoff.
type Distributor struct {
	tenants TenantSource
	fetch   FetchFunc
	work    WorkFunc
	timer   Timer
	sink    ErrorSink
	log     logger.Logger
	config  DistributorConfig

	slots chan struct{}
	wake  chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDistributor wires a distributor. The timer and sink may be nil, in
// which case the wall clock and a logging sink are used.
func NewDistributor(tenants TenantSource, fetch FetchFunc, work WorkFunc, log logger.Logger, cfg DistributorConfig, timer Timer, sink ErrorSink) (*Distributor, error) {
	if tenants == nil {
		return nil, jobsError(ErrValidation, "tenant source is required")
	}
	if fetch == nil {
		return nil, jobsError(ErrValidation, "fetch function is required")
	}
	if work == nil {
		return nil, jobsError(ErrValidation, "work function is required")
	}
	if log == nil {
		return nil, jobsError(ErrValidation, "logger is required")
	}
	cfg.normalize()
	if timer == nil {
		timer = NewWallTimer()
	}
	if sink == nil {
		sink = loggerSink{log: log}
	}

	return &Distributor{
		tenants: tenants,
		fetch:   fetch,
		work:    work,
		timer:   timer,
		sink:    sink,
		log:     log,
		config:  cfg,
		slots:   make(chan struct{}, cfg.MaxJobs),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start runs the dispatch loop until Stop is called or the context ends.
// A fetch error is fatal and propagates; the surrounding supervisor is
// expected to restart.
func (d *Distributor) Start(ctx context.Context) error {
	if ctx == nil {
		return jobsError(ErrValidation, "context is required")
	}

	for {
		if d.stopped(ctx) {
			return nil
		}

		rotation, err := d.tenants.Tenants(ctx)
		if err != nil {
			return fmt.Errorf("tenant rotation failed: %w", err)
		}

		sawWork := false
		for _, tenant := range rotation {
			if d.stopped(ctx) {
				return nil
			}

			// Hold a slot before fetching so a full worker stops
			// claiming and work accumulates in pending instead.
			select {
			case d.slots <- struct{}{}:
			case <-d.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			}

			outcome, fetchErr := d.fetch(ctx, tenant)
			if fetchErr != nil {
				<-d.slots
				return fmt.Errorf("fetch for tenant %q failed: %w", tenant, fetchErr)
			}

			switch outcome.Kind() {
			case OutcomeKindSuccess:
				sawWork = true
				d.wg.Add(1)
				go d.dispatch(ctx, outcome.Job(), tenant)
			case OutcomeKindEmpty:
				<-d.slots
			case OutcomeKindRetry:
				// Advance past the blocked tenant without backing off.
				<-d.slots
			case OutcomeKindWait:
				// The waiting slot is not counted against MaxJobs; a
				// watcher re-triggers the sweep when the wait resolves.
				<-d.slots
				d.watchWait(outcome.WaitChan())
			}
		}

		if !sawWork {
			select {
			case <-d.wake:
			case <-d.timer.Sleep(d.config.PollInterval):
			case <-d.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Wake cancels a pending backoff, typically on a pub/sub new-job signal.
func (d *Distributor) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop signals the loop to exit. In-flight work keeps its slot until it
// finishes; nothing is aborted.
func (d *Distributor) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.timer.Cancel()
	})
}

// Close stops the loop and waits for in-flight work to drain.
func (d *Distributor) Close(ctx context.Context) error {
	d.Stop()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Distributor) dispatch(ctx context.Context, job *Job, tenant string) {
	defer d.wg.Done()
	defer func() { <-d.slots }()

	incrementJobInFlight(tenant)
	defer decrementJobInFlight(tenant)

	if err := d.runWork(ctx, job, tenant); err != nil {
		// The claim stays in processing; the stale checker reclaims it.
		d.sink.Report(err)
	}
}

func (d *Distributor) runWork(ctx context.Context, job *Job, tenant string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing job %q: %v; stack=%s", job.ID, rec, string(debug.Stack()))
		}
	}()
	return d.work(ctx, job, tenant)
}

func (d *Distributor) watchWait(waitCh <-chan struct{}) {
	if waitCh == nil {
		return
	}
	go func() {
		select {
		case <-waitCh:
			d.Wake()
		case <-d.stopCh:
		}
	}()
}

func (d *Distributor) stopped(ctx context.Context) bool {
	select {
	case <-d.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
