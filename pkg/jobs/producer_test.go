package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
)

func newTestProducer(t *testing.T, repo Repository) *Producer {
	t.Helper()
	producer, err := NewProducer(repo, logger.Nop{}, ProducerConfig{
		StaleChecker: StaleCheckerConfig{Manual: true},
	})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	return producer
}

func TestProducer_EnqueueFillsDefaults(t *testing.T) {
	repo := NewMemoryRepository(nil)
	producer := newTestProducer(t, repo)
	ctx := context.Background()

	result, err := producer.Enqueue(ctx, &Job{Queue: "orders", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if result.ID == "" {
		t.Fatal("a missing id must be generated")
	}

	found, err := producer.FindByID(ctx, "", "orders", result.ID)
	if err != nil || found == nil {
		t.Fatalf("find: %+v %v", found, err)
	}
	if found.RunAt == 0 {
		t.Fatal("a missing run time must default to now")
	}
	// The zero run time means run now: the job must be claimable.
	if sets := repo.LiveSets(); sets[found.Fingerprint()] != "pending" {
		t.Fatalf("defaulted job must be pending, got %q", sets[found.Fingerprint()])
	}
}

func TestProducer_EnqueueDoesNotMutateInput(t *testing.T) {
	repo := NewMemoryRepository(nil)
	producer := newTestProducer(t, repo)

	job := &Job{Queue: "orders", Payload: []byte("x")}
	if _, err := producer.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID != "" || job.RunAt != 0 {
		t.Fatalf("caller's job must stay untouched: %+v", job)
	}
}

func TestProducer_DeleteAndInvoke(t *testing.T) {
	repo := NewMemoryRepository(nil)
	producer := newTestProducer(t, repo)
	ctx := context.Background()

	future := &Job{ID: "later", Queue: "orders", Payload: []byte("x"), RunAt: time.Now().Add(time.Hour).UnixMilli()}
	if _, err := producer.Enqueue(ctx, future); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	moved, err := producer.Invoke(ctx, "", "orders", "later")
	if err != nil || !moved {
		t.Fatalf("invoke: %v %v", moved, err)
	}
	removed, err := producer.Delete(ctx, "", "orders", "later")
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if found, _ := producer.FindByID(ctx, "", "orders", "later"); found != nil {
		t.Fatal("deleted job must be gone")
	}
}

func TestProducer_OwnsStaleChecker(t *testing.T) {
	repo := NewMemoryRepository(nil)
	producer := newTestProducer(t, repo)
	ctx := context.Background()

	if _, err := producer.Enqueue(ctx, &Job{ID: "stall", Queue: "orders", Payload: []byte("x")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	mustClaim(t, repo, "", 10)
	time.Sleep(30 * time.Millisecond)

	emitted, err := producer.StaleChecker().Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(emitted) != 1 || emitted[0].JobID != "stall" {
		t.Fatalf("expected one timeout for stall, got %+v", emitted)
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
