// Package factory wires producers and workers from configuration.
package factory

import (
	"github.com/owlmq/owlmq/pkg/config"
	"github.com/owlmq/owlmq/pkg/jobs"
	"github.com/owlmq/owlmq/pkg/observability/logger"
)

// NewRepository creates a Redis-backed repository from configuration.
// The schedule map may be nil for the built-in schedule types.
func NewRepository(cfg *config.QueueConfig, schedules jobs.ScheduleMap, log logger.Logger) (*jobs.RedisRepository, error) {
	return jobs.NewRedisRepository(jobs.RedisRepositoryConfig{
		URL:              cfg.Redis.URL,
		Prefix:           cfg.Redis.Prefix,
		OperationTimeout: cfg.Redis.OperationTimeout,
		PromoteBatch:     cfg.Worker.PromoteBatch,
	}, schedules, log)
}

// NewProducer creates a producer with its stale checker from
// configuration. The producer owns the repository connection.
func NewProducer(cfg *config.QueueConfig, schedules jobs.ScheduleMap, log logger.Logger) (*jobs.Producer, error) {
	repo, err := NewRepository(cfg, schedules, log)
	if err != nil {
		return nil, err
	}
	producer, err := jobs.NewProducer(repo, log, jobs.ProducerConfig{
		StaleChecker: jobs.StaleCheckerConfig{
			Interval: cfg.Stale.Interval,
			Manual:   cfg.Stale.Manual,
		},
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return producer, nil
}

// NewWorker creates a worker bound to the processor from configuration.
// The worker owns the repository connection.
func NewWorker(cfg *config.QueueConfig, processor jobs.Processor, schedules jobs.ScheduleMap, log logger.Logger) (*jobs.Worker, error) {
	repo, err := NewRepository(cfg, schedules, log)
	if err != nil {
		return nil, err
	}
	worker, err := jobs.NewWorker(repo, processor, log, jobs.WorkerConfig{
		Tenants:      cfg.Worker.Tenants,
		MaxJobs:      cfg.Worker.MaxJobs,
		StaleAfter:   cfg.Stale.StaleAfter,
		PollInterval: cfg.Worker.PollInterval,
		PromoteBatch: cfg.Worker.PromoteBatch,
		StopTimeout:  cfg.Worker.StopTimeout,
	}, nil)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return worker, nil
}
