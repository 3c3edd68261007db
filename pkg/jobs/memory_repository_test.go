package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testJob(id, queue string) *Job {
	return &Job{
		ID:      id,
		Queue:   queue,
		Payload: []byte("payload"),
		RunAt:   time.Now().UnixMilli(),
	}
}

func mustEnqueue(t *testing.T, repo Repository, job *Job) *EnqueueResult {
	t.Helper()
	result, err := repo.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue %s: %v", job.ID, err)
	}
	return result
}

func mustClaim(t *testing.T, repo Repository, tenant string, staleAfter int64) (*Job, *AckToken) {
	t.Helper()
	now, _ := repo.ServerNow(context.Background())
	job, token, err := repo.Claim(context.Background(), tenant, now, staleAfter)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job, token
}

func TestMemoryRepository_EnqueuePlacement(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	due := testJob("due", "orders")
	result := mustEnqueue(t, repo, due)
	if result.Status != EnqueueCreated {
		t.Fatalf("expected created, got %s", result.Status)
	}
	if sets := repo.LiveSets(); sets[due.Fingerprint()] != "pending" {
		t.Fatalf("due job should be pending, got %q", sets[due.Fingerprint()])
	}

	future := testJob("future", "orders")
	future.RunAt = time.Now().Add(time.Hour).UnixMilli()
	mustEnqueue(t, repo, future)
	if sets := repo.LiveSets(); sets[future.Fingerprint()] != "scheduled" {
		t.Fatalf("future job should be scheduled, got %q", sets[future.Fingerprint()])
	}

	found, err := repo.FindByID(ctx, "", "orders", "future")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != "future" {
		t.Fatalf("expected to find future job, got %+v", found)
	}
}

func TestMemoryRepository_ReplacePreservesCount(t *testing.T) {
	repo := NewMemoryRepository(nil)

	job := testJob("replace-me", "orders")
	job.Retry = []int64{100}
	mustEnqueue(t, repo, job)

	claimed, _ := mustClaim(t, repo, "", 1000)
	if claimed.Count != 1 {
		t.Fatalf("expected count 1 after claim, got %d", claimed.Count)
	}

	// Reclaim via retry puts it back into scheduled with count kept.
	now, _ := repo.ServerNow(context.Background())
	report, err := repo.ReportStale(context.Background(), "", claimed.Fingerprint(), now+2000)
	if err != nil {
		t.Fatalf("report stale: %v", err)
	}
	if report == nil || !report.Requeued {
		t.Fatalf("expected retry requeue, got %+v", report)
	}

	result := mustEnqueue(t, repo, testJob("replace-me", "orders"))
	if result.Status != EnqueueReplaced {
		t.Fatalf("expected replaced, got %s", result.Status)
	}
	found, _ := repo.FindByID(context.Background(), "", "orders", "replace-me")
	if found.Count != 1 {
		t.Fatalf("replace must preserve claim count, got %d", found.Count)
	}
}

func TestMemoryRepository_EnqueueWhileProcessingIsLocked(t *testing.T) {
	repo := NewMemoryRepository(nil)

	mustEnqueue(t, repo, testJob("busy", "orders"))
	mustClaim(t, repo, "", 60_000)

	_, err := repo.Enqueue(context.Background(), testJob("busy", "orders"))
	if !errors.Is(err, ErrQueueLocked) {
		t.Fatalf("expected queue locked, got %v", err)
	}
}

func TestMemoryRepository_ExclusiveQueueLocked(t *testing.T) {
	repo := NewMemoryRepository(nil)

	first := testJob("first", "serial")
	mustEnqueue(t, repo, first)
	mustClaim(t, repo, "", 60_000)

	second := testJob("second", "serial")
	second.Exclusive = true
	_, err := repo.Enqueue(context.Background(), second)
	if !errors.Is(err, ErrQueueLocked) {
		t.Fatalf("expected queue locked for exclusive enqueue, got %v", err)
	}

	// A different queue is unaffected.
	other := testJob("second", "parallel")
	other.Exclusive = true
	mustEnqueue(t, repo, other)
}

func TestMemoryRepository_ClaimIsFIFOByRunAt(t *testing.T) {
	repo := NewMemoryRepository(nil)

	base := time.Now().UnixMilli()
	late := testJob("late", "orders")
	late.RunAt = base - 100
	early := testJob("early", "orders")
	early.RunAt = base - 200
	mustEnqueue(t, repo, late)
	mustEnqueue(t, repo, early)

	first, _ := mustClaim(t, repo, "", 1000)
	if first.ID != "early" {
		t.Fatalf("expected earliest runAt first, got %s", first.ID)
	}
	second, _ := mustClaim(t, repo, "", 1000)
	if second.ID != "late" {
		t.Fatalf("expected late second, got %s", second.ID)
	}
}

func TestMemoryRepository_AcknowledgeIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	mustEnqueue(t, repo, testJob("once", "orders"))
	_, token := mustClaim(t, repo, "", 1000)

	status, err := repo.Acknowledge(ctx, token, AckOptions{})
	if err != nil || status != AckDeleted {
		t.Fatalf("expected deleted ack, got %v %v", status, err)
	}
	status, err = repo.Acknowledge(ctx, token, AckOptions{})
	if err != nil || status != AckStale {
		t.Fatalf("second ack must be stale, got %v %v", status, err)
	}
	if found, _ := repo.FindByID(ctx, "", "orders", "once"); found != nil {
		t.Fatalf("job must be gone after ack, got %+v", found)
	}
}

func TestMemoryRepository_AcknowledgeReschedulesRepeating(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("repeat", "orders")
	job.Schedule = &Schedule{Type: "every", Meta: "1000"}
	mustEnqueue(t, repo, job)

	_, token := mustClaim(t, repo, "", 1000)
	status, err := repo.Acknowledge(ctx, token, AckOptions{})
	if err != nil || status != AckRescheduled {
		t.Fatalf("expected reschedule, got %v %v", status, err)
	}
	if sets := repo.LiveSets(); sets[job.Fingerprint()] != "scheduled" {
		t.Fatalf("repeating job must land in scheduled, got %q", sets[job.Fingerprint()])
	}
}

func TestMemoryRepository_MaxTimesTerminates(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("capped", "orders")
	job.Schedule = &Schedule{Type: "every", Meta: "10"}
	job.MaxTimes = 1
	mustEnqueue(t, repo, job)

	_, token := mustClaim(t, repo, "", 1000)
	status, err := repo.Acknowledge(ctx, token, AckOptions{})
	if err != nil || status != AckDeleted {
		t.Fatalf("expected terminal ack at max times, got %v %v", status, err)
	}
	if found, _ := repo.FindByID(ctx, "", "orders", "capped"); found != nil {
		t.Fatal("job must be fully removed at max times")
	}
}

func TestMemoryRepository_DontRescheduleTerminates(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("stop-me", "orders")
	job.Schedule = &Schedule{Type: "every", Meta: "1000"}
	mustEnqueue(t, repo, job)

	_, token := mustClaim(t, repo, "", 1000)
	status, err := repo.Acknowledge(ctx, token, AckOptions{DontReschedule: true})
	if err != nil || status != AckDeleted {
		t.Fatalf("expected terminal ack with dontReschedule, got %v %v", status, err)
	}
	if found, _ := repo.FindByID(ctx, "", "orders", "stop-me"); found != nil {
		t.Fatal("dontReschedule must remove the job")
	}
}

func TestMemoryRepository_ReportStaleRetryIndexing(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("retrying", "orders")
	job.Retry = []int64{100, 200}
	mustEnqueue(t, repo, job)

	// First claim stalls: retry[0] applies.
	claimed, _ := mustClaim(t, repo, "", 10)
	now, _ := repo.ServerNow(ctx)
	report, err := repo.ReportStale(ctx, "", claimed.Fingerprint(), now+1000)
	if err != nil {
		t.Fatalf("report stale: %v", err)
	}
	if !report.Requeued || report.NextRetryAt != now+1000+100 {
		t.Fatalf("expected first retry delay 100, got %+v", report)
	}

	// Promote and claim again; second stall consumes retry[1].
	if _, err := repo.PromoteDue(ctx, "", report.NextRetryAt, 0); err != nil {
		t.Fatalf("promote: %v", err)
	}
	claimed, _ = mustClaim(t, repo, "", 10)
	if claimed.Count != 2 {
		t.Fatalf("expected count 2 on second claim, got %d", claimed.Count)
	}
	now, _ = repo.ServerNow(ctx)
	report, err = repo.ReportStale(ctx, "", claimed.Fingerprint(), now+1000)
	if err != nil {
		t.Fatalf("report stale: %v", err)
	}
	if !report.Requeued || report.NextRetryAt != now+1000+200 {
		t.Fatalf("expected second retry delay 200, got %+v", report)
	}

	// Third stall exhausts the sequence: terminal removal.
	if _, err := repo.PromoteDue(ctx, "", report.NextRetryAt, 0); err != nil {
		t.Fatalf("promote: %v", err)
	}
	claimed, _ = mustClaim(t, repo, "", 10)
	now, _ = repo.ServerNow(ctx)
	report, err = repo.ReportStale(ctx, "", claimed.Fingerprint(), now+1000)
	if err != nil {
		t.Fatalf("report stale: %v", err)
	}
	if report.Requeued {
		t.Fatal("retry budget exhausted, job must be removed")
	}
	if found, _ := repo.FindByID(ctx, "", "orders", "retrying"); found != nil {
		t.Fatal("timed-out job must be gone")
	}
}

func TestMemoryRepository_LateAckAfterReclaimIsStale(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("raced", "orders")
	job.Retry = []int64{50}
	mustEnqueue(t, repo, job)

	claimed, token := mustClaim(t, repo, "", 10)
	now, _ := repo.ServerNow(ctx)
	if _, err := repo.ReportStale(ctx, "", claimed.Fingerprint(), now+1000); err != nil {
		t.Fatalf("report stale: %v", err)
	}

	status, err := repo.Acknowledge(ctx, token, AckOptions{})
	if err != nil || status != AckStale {
		t.Fatalf("ack after reclaim must be stale, got %v %v", status, err)
	}
}

func TestMemoryRepository_InvokePromotes(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	job := testJob("later", "orders")
	job.RunAt = time.Now().Add(time.Hour).UnixMilli()
	mustEnqueue(t, repo, job)

	moved, err := repo.Invoke(ctx, "", "orders", "later")
	if err != nil || !moved {
		t.Fatalf("invoke: moved=%v err=%v", moved, err)
	}
	if sets := repo.LiveSets(); sets[job.Fingerprint()] != "pending" {
		t.Fatalf("invoked job must be pending, got %q", sets[job.Fingerprint()])
	}

	moved, err = repo.Invoke(ctx, "", "orders", "later")
	if err != nil || moved {
		t.Fatalf("second invoke must be a no-op, moved=%v err=%v", moved, err)
	}
}

func TestMemoryRepository_DeleteRemovesEverywhere(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	mustEnqueue(t, repo, testJob("doomed", "orders"))
	removed, err := repo.Delete(ctx, "", "orders", "doomed")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if found, _ := repo.FindByID(ctx, "", "orders", "doomed"); found != nil {
		t.Fatal("deleted job must be gone")
	}
	removed, err = repo.Delete(ctx, "", "orders", "doomed")
	if err != nil || removed {
		t.Fatalf("second delete must report false, removed=%v err=%v", removed, err)
	}
}

func TestMemoryRepository_TenantIsolation(t *testing.T) {
	repo := NewMemoryRepository(nil)

	a := testJob("job-a", "orders")
	a.Tenant = "acme"
	b := testJob("job-b", "orders")
	b.Tenant = "globex"
	mustEnqueue(t, repo, a)
	mustEnqueue(t, repo, b)

	claimed, _ := mustClaim(t, repo, "acme", 1000)
	if claimed.ID != "job-a" {
		t.Fatalf("claim must respect tenant, got %s", claimed.ID)
	}

	tenants, err := repo.Tenants(context.Background())
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected two tenants, got %v", tenants)
	}
}
