package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/owlmq/owlmq/pkg/observability/logger"
)

// ProducerConfig configures a producer and its stale checker.
type ProducerConfig struct {
	StaleChecker StaleCheckerConfig
}

// Producer is the public enqueue-side API. It owns a stale checker so
// that a deployment with producers but no workers still reclaims
// orphaned claims.
type Producer struct {
	repo  Repository
	log   logger.Logger
	stale *StaleChecker
}

// NewProducer creates a producer over the repository.
func NewProducer(repo Repository, log logger.Logger, cfg ProducerConfig) (*Producer, error) {
	if repo == nil {
		return nil, jobsError(ErrValidation, "repository is required")
	}
	if log == nil {
		return nil, jobsError(ErrValidation, "logger is required")
	}

	stale, err := NewStaleChecker(repo, log, cfg.StaleChecker)
	if err != nil {
		return nil, err
	}
	return &Producer{
		repo:  repo,
		log:   log,
		stale: stale,
	}, nil
}

// Enqueue schedules a job. A missing id is generated; a missing run
// time means run now. Returns whether the job was created or replaced
// an existing identity.
func (p *Producer) Enqueue(ctx context.Context, job *Job) (*EnqueueResult, error) {
	if job == nil {
		return nil, jobsError(ErrValidation, "job is required")
	}
	queued := cloneJob(job)
	if strings.TrimSpace(queued.ID) == "" {
		queued.ID = uuid.NewString()
	}
	if queued.RunAt == 0 {
		now, err := p.repo.ServerNow(ctx)
		if err != nil {
			return nil, err
		}
		queued.RunAt = now
	}
	return p.repo.Enqueue(ctx, queued)
}

// FindByID returns the live job or nil.
func (p *Producer) FindByID(ctx context.Context, tenant, queue, id string) (*Job, error) {
	return p.repo.FindByID(ctx, tenant, queue, id)
}

// Delete force-removes a job from the queue.
func (p *Producer) Delete(ctx context.Context, tenant, queue, id string) (bool, error) {
	return p.repo.Delete(ctx, tenant, queue, id)
}

// Invoke promotes a scheduled job to run immediately.
func (p *Producer) Invoke(ctx context.Context, tenant, queue, id string) (bool, error) {
	return p.repo.Invoke(ctx, tenant, queue, id)
}

// StaleChecker exposes the producer's stale checker handle.
func (p *Producer) StaleChecker() *StaleChecker {
	return p.stale
}

// Start launches the automatic stale checker driver.
func (p *Producer) Start(ctx context.Context) {
	p.stale.Start(ctx)
}

// Close stops the stale checker and releases the repository.
func (p *Producer) Close() error {
	p.stale.Stop()
	var closeErr error
	if err := p.repo.Close(); err != nil && !errors.Is(err, ErrClosed) {
		closeErr = err
	}
	return closeErr
}
