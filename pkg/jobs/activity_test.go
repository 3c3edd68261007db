package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
)

func TestActivity_StreamsLifecycleEvents(t *testing.T) {
	repo := NewMemoryRepository(nil)
	activity, err := NewActivity(repo, logger.Nop{})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}

	var mu sync.Mutex
	var seen []ActivityEvent
	ctx := context.Background()
	if err := activity.Start(ctx, func(event ActivityEvent) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := activity.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	mustEnqueue(t, repo, testJob("observed", "orders"))
	_, token := mustClaim(t, repo, "", 1000)
	if _, err := repo.Acknowledge(ctx, token, AckOptions{}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	expected := []string{EventEnqueued, EventClaimed, EventAcknowledged}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count >= len(expected) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events, saw %d", len(expected), count)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for index, eventType := range expected {
		event := seen[index]
		if event.Type != eventType {
			t.Fatalf("event %d: expected type %s, got %s", index, eventType, event.Type)
		}
		if event.ID != "observed" || event.Queue != "orders" {
			t.Fatalf("event %d carries wrong identity: %+v", index, event)
		}
	}
}

func TestActivity_StartTwiceFails(t *testing.T) {
	repo := NewMemoryRepository(nil)
	activity, err := NewActivity(repo, logger.Nop{})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}

	callback := func(ActivityEvent) {}
	if err := activity.Start(context.Background(), callback); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer activity.Close()

	if err := activity.Start(context.Background(), callback); err == nil {
		t.Fatal("second start must fail")
	}
}
