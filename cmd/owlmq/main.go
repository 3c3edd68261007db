// Command owlmq runs queue utilities: a demo worker and a one-off
// enqueue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/owlmq/owlmq/pkg/config"
	"github.com/owlmq/owlmq/pkg/jobs"
	"github.com/owlmq/owlmq/pkg/jobs/factory"
	"github.com/owlmq/owlmq/pkg/observability/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "owlmq",
		Short:         "Durable multi-tenant Redis job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newWorkerCommand(&configPath))
	root.AddCommand(newEnqueueCommand(&configPath))
	return root
}

func setup(configPath string) (*config.QueueConfig, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Log.Level),
		Format: logger.LogFormat(cfg.Log.Format),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newWorkerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that logs and acknowledges every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}

			var worker *jobs.Worker
			processor := func(ctx context.Context, job *jobs.Job, token *jobs.AckToken) error {
				log.Info("processing job",
					"tenant", job.Tenant, "queue", job.Queue, "job_id", job.ID,
					"count", job.Count, "payload_bytes", len(job.Payload))
				return worker.Acknowledger().Acknowledge(ctx, token, jobs.AckOptions{})
			}

			worker, err = factory.NewWorker(cfg, processor, nil, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runErr := worker.Start(ctx)
			if closeErr := worker.Close(); closeErr != nil {
				log.Warn("worker close failed", "error", closeErr)
			}
			return runErr
		},
	}
}

func newEnqueueCommand(configPath *string) *cobra.Command {
	var (
		tenant  string
		queue   string
		id      string
		payload string
		delay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue one job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}

			producer, err := factory.NewProducer(cfg, nil, log)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := producer.Close(); closeErr != nil {
					log.Warn("producer close failed", "error", closeErr)
				}
			}()

			job := &jobs.Job{
				ID:      id,
				Queue:   queue,
				Tenant:  tenant,
				Payload: []byte(payload),
			}
			if delay > 0 {
				job.RunAt = time.Now().Add(delay).UnixMilli()
			}

			result, err := producer.Enqueue(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Printf("%s job %s on queue %s\n", result.Status, result.ID, result.Queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&queue, "queue", "", "queue name")
	cmd.Flags().StringVar(&id, "id", "", "job id (generated when empty)")
	cmd.Flags().StringVar(&payload, "payload", "", "job payload")
	cmd.Flags().DurationVar(&delay, "delay", 0, "schedule the job this far in the future")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}
