package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
	"github.com/owlmq/owlmq/pkg/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultStaleAfter is the grace period between claim and deadline.
	DefaultStaleAfter = 30 * time.Second
	// DefaultWorkerStopTimeout bounds the drain on Close.
	DefaultWorkerStopTimeout = 10 * time.Second
)

// Processor handles one claimed job. It must acknowledge through the
// worker's Acknowledger; the worker never acknowledges on its behalf.
// A returned error is reported to the error sink and the claim is left
// for the stale checker, preserving at-least-once delivery.
type Processor func(ctx context.Context, job *Job, token *AckToken) error

// WorkerConfig configures one worker.
type WorkerConfig struct {
	// Tenants is the static rotation this worker serves. Empty means
	// every tenant known to the repository.
	Tenants      []string
	MaxJobs      int
	StaleAfter   time.Duration
	PollInterval time.Duration
	PromoteBatch int
	StopTimeout  time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultWorkerStopTimeout
	}
}

// Worker binds a processor to a distributor over a repository. Fetches
// promote due scheduled jobs and claim from pending; the wake
// subscription cancels idle backoff when producers enqueue.
type Worker struct {
	repo      Repository
	processor Processor
	dist      *Distributor
	ack       *Acknowledger
	log       logger.Logger
	config    WorkerConfig

	lifecycleMu sync.Mutex
	running     bool
	stopWake    func() error
}

// NewWorker creates a worker. The sink may be nil for the default
// logging sink.
func NewWorker(repo Repository, processor Processor, log logger.Logger, cfg WorkerConfig, sink ErrorSink) (*Worker, error) {
	if repo == nil {
		return nil, jobsError(ErrValidation, "repository is required")
	}
	if processor == nil {
		return nil, jobsError(ErrValidation, "processor is required")
	}
	if log == nil {
		return nil, jobsError(ErrValidation, "logger is required")
	}
	cfg.normalize()

	worker := &Worker{
		repo:      repo,
		processor: processor,
		ack:       &Acknowledger{repo: repo, log: log},
		log:       log,
		config:    cfg,
	}

	var tenants TenantSource
	if len(cfg.Tenants) > 0 {
		rotation := make([]string, 0, len(cfg.Tenants))
		for _, tenant := range cfg.Tenants {
			rotation = append(rotation, strings.TrimSpace(tenant))
		}
		tenants = StaticTenants(rotation)
	} else {
		tenants = RepositoryTenants{Repo: repo}
	}

	dist, err := NewDistributor(tenants, worker.fetch, worker.process, log, DistributorConfig{
		MaxJobs:      cfg.MaxJobs,
		PollInterval: cfg.PollInterval,
	}, nil, sink)
	if err != nil {
		return nil, err
	}
	worker.dist = dist
	return worker, nil
}

// Acknowledger returns the acknowledger processors must use.
func (w *Worker) Acknowledger() *Acknowledger {
	return w.ack
}

// Start runs the worker until ctx ends or Close is called. Fetch
// failures are fatal and propagate.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		return jobsError(ErrValidation, "context is required")
	}

	w.lifecycleMu.Lock()
	if w.running {
		w.lifecycleMu.Unlock()
		return jobsError(ErrValidation, "worker already running")
	}
	w.running = true
	w.lifecycleMu.Unlock()

	if notifier, ok := w.repo.(Notifier); ok {
		stopWake, err := notifier.SubscribeWake(ctx, w.dist.Wake)
		if err != nil {
			return err
		}
		w.lifecycleMu.Lock()
		w.stopWake = stopWake
		w.lifecycleMu.Unlock()
	}

	return w.dist.Start(ctx)
}

// Close drains in-flight work, releases the wake subscription and
// closes the repository handle.
func (w *Worker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer cancel()

	closeErr := w.dist.Close(ctx)

	w.lifecycleMu.Lock()
	stopWake := w.stopWake
	w.stopWake = nil
	w.running = false
	w.lifecycleMu.Unlock()

	if stopWake != nil {
		if err := stopWake(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if err := w.repo.Close(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	return closeErr
}

func (w *Worker) fetch(ctx context.Context, tenant string) (Outcome, error) {
	now, err := w.repo.ServerNow(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := w.repo.PromoteDue(ctx, tenant, now, w.config.PromoteBatch); err != nil {
		return Outcome{}, err
	}
	job, token, err := w.repo.Claim(ctx, tenant, now, w.config.StaleAfter.Milliseconds())
	if err != nil {
		return Outcome{}, err
	}
	if job == nil {
		return Empty(), nil
	}
	return Success(job, token), nil
}

func (w *Worker) process(ctx context.Context, job *Job, tenant string) error {
	traceCtx, span := tracing.StartMessagingSpan(
		ctx,
		tracing.SpanOperationMsgProcess,
		tracing.WithMessagingSystem("owlmq"),
		tracing.WithMessagingDestination(job.Queue),
		tracing.WithMessagingMessageID(job.ID),
		tracing.WithMessagingPayloadSize(len(job.Payload)),
	)
	span.SetAttributes(
		attribute.String("jobs.tenant", tenant),
		attribute.Int64("jobs.count", job.Count),
	)
	defer span.End()

	token := &AckToken{Fingerprint: job.Fingerprint(), Count: job.Count}
	if err := w.processor(traceCtx, job, token); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

// Acknowledger finalizes claims. Stale tokens are dropped silently: a
// mismatched generation means another path already handled the job.
type Acknowledger struct {
	repo Repository
	log  logger.Logger
}

// Acknowledge finalizes the claim identified by token.
func (a *Acknowledger) Acknowledge(ctx context.Context, token *AckToken, opts AckOptions) error {
	status, err := a.repo.Acknowledge(ctx, token, opts)
	if err != nil {
		return err
	}
	if status == AckStale && a.log != nil {
		a.log.Debug("dropped stale acknowledge", "fingerprint", token.Fingerprint, "count", token.Count)
	}
	return nil
}
