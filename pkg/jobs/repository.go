package jobs

import (
	"context"
)

// Enqueue statuses.
const (
	EnqueueCreated  = "created"
	EnqueueReplaced = "replaced"
)

// Activity event types published by the atomic transitions.
const (
	EventEnqueued     = "enqueued"
	EventClaimed      = "claimed"
	EventAcknowledged = "acknowledged"
	EventRescheduled  = "rescheduled"
	EventFailed       = "failed"
)

// AckToken proves the holder owns the current claim of a job. Count is
// the claim generation; a token whose count no longer matches the live
// record is stale and its acknowledge is dropped.
type AckToken struct {
	Fingerprint string
	Count       int64
}

// EnqueueResult reports the outcome of an enqueue.
type EnqueueResult struct {
	ID     string
	Queue  string
	Status string
}

// AckOptions modifies acknowledge behavior. DontReschedule terminates a
// repeating job even when its schedule has fires remaining.
type AckOptions struct {
	DontReschedule bool
}

// AckStatus reports which transition an acknowledge performed.
type AckStatus int

const (
	// AckDeleted means the job reached its terminal state and was removed.
	AckDeleted AckStatus = iota
	// AckRescheduled means the next fire time was computed and committed.
	AckRescheduled
	// AckStale means the token generation no longer matched; nothing changed.
	AckStale
)

// StaleReport describes one reclaimed processing entry.
type StaleReport struct {
	Tenant      string
	Queue       string
	ID          string
	Fingerprint string
	// Requeued is true when the retry policy rescheduled the job.
	Requeued bool
	// NextRetryAt is the retry run time in epoch ms; zero unless Requeued.
	NextRetryAt int64
}

// ActivityEvent is one lifecycle notification. Delivery is best-effort
// over pub/sub and never used for correctness.
type ActivityEvent struct {
	Type        string
	Fingerprint string
	Tenant      string
	Queue       string
	ID          string
}

// Repository issues the atomic state transitions over the backing store.
// Every mutation of the scheduled/pending/processing sets goes through
// one of these operations; nothing else touches the keys.
type Repository interface {
	// Enqueue writes the job record and places it in scheduled or pending
	// depending on run time. Re-enqueueing a live id replaces it. Fails
	// with ErrQueueLocked when the job is exclusive and another job of
	// the same queue holds a claim, or when the same identity is
	// currently processing.
	Enqueue(ctx context.Context, job *Job) (*EnqueueResult, error)

	// PromoteDue moves up to limit due fingerprints from scheduled into
	// pending, preserving run-time order. Returns the number moved.
	PromoteDue(ctx context.Context, tenant string, now int64, limit int) (int, error)

	// Claim pops the earliest pending fingerprint for the tenant,
	// registers it in processing with deadline now+staleAfter, increments
	// the claim count and returns the job with its ack token. Returns
	// (nil, nil, nil) when no work is due.
	Claim(ctx context.Context, tenant string, now int64, staleAfter int64) (*Job, *AckToken, error)

	// Acknowledge finalizes a claim. Repeating jobs are rescheduled via
	// the schedule map unless opts.DontReschedule is set or the repeat
	// cap is reached; all other jobs are removed. A mismatched token
	// returns AckStale and changes nothing.
	Acknowledge(ctx context.Context, token *AckToken, opts AckOptions) (AckStatus, error)

	// ReportStale reclaims one timed-out processing entry: jobs with
	// retry budget left are rescheduled, the rest are removed. Returns
	// nil when the entry is no longer stale (another path won the race).
	ReportStale(ctx context.Context, tenant, fingerprint string, now int64) (*StaleReport, error)

	// DueProcessing lists fingerprints whose claim deadline is at or
	// before now.
	DueProcessing(ctx context.Context, tenant string, now int64) ([]string, error)

	// FindByID returns the live job or nil.
	FindByID(ctx context.Context, tenant, queue, id string) (*Job, error)

	// Delete force-removes the job from every set. Reports whether
	// anything was removed.
	Delete(ctx context.Context, tenant, queue, id string) (bool, error)

	// Invoke force-promotes a scheduled job into pending immediately.
	Invoke(ctx context.Context, tenant, queue, id string) (bool, error)

	// Tenants lists tenants that have ever enqueued.
	Tenants(ctx context.Context) ([]string, error)

	// ServerNow returns the authoritative store-side time in epoch ms.
	ServerNow(ctx context.Context) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Notifier delivers best-effort wake and activity signals. The returned
// stop functions release the underlying subscriptions.
type Notifier interface {
	// SubscribeActivity streams lifecycle events until ctx is done or the
	// stop function is called.
	SubscribeActivity(ctx context.Context) (<-chan ActivityEvent, func() error, error)

	// SubscribeWake invokes wake whenever new work lands in any pending
	// set. Spurious wakes are allowed.
	SubscribeWake(ctx context.Context, wake func()) (func() error, error)
}
