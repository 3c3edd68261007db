package jobs

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	job *Job
	// set is one of "scheduled", "pending", "processing".
	set string
	// score is runAt for scheduled/pending and the claim deadline for
	// processing.
	score int64
	// sequence breaks score ties in arrival order.
	sequence int64
}

// MemoryRepository implements Repository and Notifier entirely in
// process. It exists for local development and tests; the semantics
// mirror the Redis scripts, including generation checks and the
// one-set-per-fingerprint invariant.
type MemoryRepository struct {
	schedules ScheduleMap
	clock     Clock

	mu       sync.Mutex
	entries  map[string]*memoryEntry
	tenants  map[string]struct{}
	sequence int64
	closed   bool

	wakeSubs     map[int64]func()
	activitySubs map[int64]chan ActivityEvent
	subSequence  int64
}

// NewMemoryRepository creates an empty in-memory repository. The
// schedule map may be nil, in which case the built-in types are used.
func NewMemoryRepository(schedules ScheduleMap) *MemoryRepository {
	if schedules == nil {
		schedules = DefaultScheduleMap()
	}
	return &MemoryRepository{
		schedules:    schedules,
		clock:        SystemClock{},
		entries:      map[string]*memoryEntry{},
		tenants:      map[string]struct{}{},
		wakeSubs:     map[int64]func(){},
		activitySubs: map[int64]chan ActivityEvent{},
	}
}

// Enqueue writes the job record and positions it by run time.
func (m *MemoryRepository) Enqueue(ctx context.Context, job *Job) (*EnqueueResult, error) {
	if job == nil {
		return nil, jobsError(ErrValidation, "job is required")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, jobsError(ErrClosed, "memory repository is closed")
	}

	fp := job.Fingerprint()
	now := m.clock.Now()

	if existing, live := m.entries[fp]; live && existing.set == "processing" {
		m.mu.Unlock()
		return nil, jobsError(ErrQueueLocked, "job is currently processing")
	}
	if job.Exclusive {
		for otherFP, entry := range m.entries {
			if otherFP != fp && entry.set == "processing" &&
				entry.job.Tenant == job.Tenant && entry.job.Queue == job.Queue {
				m.mu.Unlock()
				return nil, jobsError(ErrQueueLocked, "queue has an active exclusive claim")
			}
		}
	}

	status := EnqueueCreated
	stored := cloneJob(job)
	if existing, live := m.entries[fp]; live {
		status = EnqueueReplaced
		stored.Count = existing.job.Count
	}

	set := "scheduled"
	if stored.RunAt <= now {
		set = "pending"
	}
	m.sequence++
	m.entries[fp] = &memoryEntry{job: stored, set: set, score: stored.RunAt, sequence: m.sequence}
	m.tenants[stored.Tenant] = struct{}{}

	wake := set == "pending"
	m.mu.Unlock()

	if wake {
		m.notifyWake()
	}
	m.publish(EventEnqueued, fp, stored)
	return &EnqueueResult{ID: job.ID, Queue: job.Queue, Status: status}, nil
}

// PromoteDue moves due scheduled jobs into pending.
func (m *MemoryRepository) PromoteDue(ctx context.Context, tenant string, now int64, limit int) (int, error) {
	m.mu.Lock()
	moved := 0
	for _, entry := range m.sortedEntries(tenant, "scheduled") {
		if limit > 0 && moved >= limit {
			break
		}
		if entry.score > now {
			break
		}
		entry.set = "pending"
		moved++
	}
	m.mu.Unlock()

	if moved > 0 {
		m.notifyWake()
	}
	return moved, nil
}

// Claim pops the earliest pending fingerprint for the tenant.
func (m *MemoryRepository) Claim(ctx context.Context, tenant string, now int64, staleAfter int64) (*Job, *AckToken, error) {
	if staleAfter <= 0 {
		return nil, nil, jobsError(ErrValidation, "staleAfter must be > 0")
	}

	m.mu.Lock()
	pending := m.sortedEntries(tenant, "pending")
	if len(pending) == 0 {
		m.mu.Unlock()
		return nil, nil, nil
	}
	entry := pending[0]
	entry.set = "processing"
	entry.score = now + staleAfter
	entry.job.Count++
	job := cloneJob(entry.job)
	fp := job.Fingerprint()
	m.mu.Unlock()

	m.publish(EventClaimed, fp, job)
	return job, &AckToken{Fingerprint: fp, Count: job.Count}, nil
}

// Acknowledge finalizes a claim.
func (m *MemoryRepository) Acknowledge(ctx context.Context, token *AckToken, opts AckOptions) (AckStatus, error) {
	if token == nil || token.Fingerprint == "" {
		return AckStale, jobsError(ErrValidation, "ack token is required")
	}

	m.mu.Lock()
	entry, live := m.entries[token.Fingerprint]
	if !live || entry.set != "processing" || entry.job.Count != token.Count {
		m.mu.Unlock()
		return AckStale, nil
	}

	job := entry.job
	now := m.clock.Now()
	repeats := job.Schedule != nil && !opts.DontReschedule &&
		(job.MaxTimes == 0 || job.Count < job.MaxTimes)
	if repeats {
		if next, ok := m.schedules.Next(job.Schedule, now); ok {
			entry.set = "scheduled"
			entry.score = next
			job.RunAt = next
			job.Schedule.LastFireTime = now
			rescheduled := cloneJob(job)
			m.mu.Unlock()
			m.publish(EventRescheduled, token.Fingerprint, rescheduled)
			return AckRescheduled, nil
		}
	}

	delete(m.entries, token.Fingerprint)
	removed := cloneJob(job)
	m.mu.Unlock()
	m.publish(EventAcknowledged, token.Fingerprint, removed)
	return AckDeleted, nil
}

// ReportStale reclaims one timed-out claim.
func (m *MemoryRepository) ReportStale(ctx context.Context, tenant, fingerprint string, now int64) (*StaleReport, error) {
	m.mu.Lock()
	entry, live := m.entries[fingerprint]
	if !live || entry.set != "processing" || entry.score > now {
		m.mu.Unlock()
		return nil, nil
	}

	job := entry.job
	report := &StaleReport{
		Tenant:      job.Tenant,
		Queue:       job.Queue,
		ID:          job.ID,
		Fingerprint: fingerprint,
	}

	if delay, hasRetry := job.RetryDelayFor(job.Count); hasRetry {
		entry.set = "scheduled"
		entry.score = now + delay
		job.RunAt = now + delay
		report.Requeued = true
		report.NextRetryAt = now + delay
		requeued := cloneJob(job)
		m.mu.Unlock()
		m.publish(EventRescheduled, fingerprint, requeued)
		return report, nil
	}

	delete(m.entries, fingerprint)
	failed := cloneJob(job)
	m.mu.Unlock()
	m.publish(EventFailed, fingerprint, failed)
	return report, nil
}

// DueProcessing lists fingerprints whose claim deadline has passed.
func (m *MemoryRepository) DueProcessing(ctx context.Context, tenant string, now int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for _, entry := range m.sortedEntries(tenant, "processing") {
		if entry.score <= now {
			due = append(due, entry.job.Fingerprint())
		}
	}
	return due, nil
}

// FindByID returns the live job or nil.
func (m *MemoryRepository) FindByID(ctx context.Context, tenant, queue, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, live := m.entries[Fingerprint(tenant, queue, id)]
	if !live {
		return nil, nil
	}
	return cloneJob(entry.job), nil
}

// Delete force-removes the job.
func (m *MemoryRepository) Delete(ctx context.Context, tenant, queue, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp := Fingerprint(tenant, queue, id)
	if _, live := m.entries[fp]; !live {
		return false, nil
	}
	delete(m.entries, fp)
	return true, nil
}

// Invoke force-promotes a scheduled job into pending.
func (m *MemoryRepository) Invoke(ctx context.Context, tenant, queue, id string) (bool, error) {
	m.mu.Lock()
	fp := Fingerprint(tenant, queue, id)
	entry, live := m.entries[fp]
	if !live || entry.set != "scheduled" {
		m.mu.Unlock()
		return false, nil
	}
	entry.set = "pending"
	entry.score = m.clock.Now()
	m.mu.Unlock()

	m.notifyWake()
	return true, nil
}

// Tenants lists tenants that have ever enqueued.
func (m *MemoryRepository) Tenants(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenants := make([]string, 0, len(m.tenants))
	for tenant := range m.tenants {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// ServerNow returns the repository clock's time; there is no remote
// clock to defer to.
func (m *MemoryRepository) ServerNow(ctx context.Context) (int64, error) {
	return m.clock.Now(), nil
}

// SubscribeActivity streams lifecycle events.
func (m *MemoryRepository) SubscribeActivity(ctx context.Context) (<-chan ActivityEvent, func() error, error) {
	m.mu.Lock()
	m.subSequence++
	id := m.subSequence
	events := make(chan ActivityEvent, 64)
	m.activitySubs[id] = events
	m.mu.Unlock()

	stop := func() error {
		m.mu.Lock()
		if existing, found := m.activitySubs[id]; found {
			delete(m.activitySubs, id)
			close(existing)
		}
		m.mu.Unlock()
		return nil
	}
	return events, stop, nil
}

// SubscribeWake invokes wake whenever new work lands in pending.
func (m *MemoryRepository) SubscribeWake(ctx context.Context, wake func()) (func() error, error) {
	if wake == nil {
		return nil, jobsError(ErrValidation, "wake function is required")
	}
	m.mu.Lock()
	m.subSequence++
	id := m.subSequence
	m.wakeSubs[id] = wake
	m.mu.Unlock()

	stop := func() error {
		m.mu.Lock()
		delete(m.wakeSubs, id)
		m.mu.Unlock()
		return nil
	}
	return stop, nil
}

// HealthCheck always succeeds while open.
func (m *MemoryRepository) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return jobsError(ErrClosed, "memory repository is closed")
	}
	return nil
}

// Close releases subscriptions and rejects further operations.
func (m *MemoryRepository) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, events := range m.activitySubs {
		delete(m.activitySubs, id)
		close(events)
	}
	m.wakeSubs = map[int64]func(){}
	return nil
}

// LiveSets reports which set each live fingerprint occupies. Tests use
// it to assert the one-set-per-fingerprint invariant.
func (m *MemoryRepository) LiveSets() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets := make(map[string]string, len(m.entries))
	for fp, entry := range m.entries {
		sets[fp] = entry.set
	}
	return sets
}

func (m *MemoryRepository) sortedEntries(tenant, set string) []*memoryEntry {
	var matched []*memoryEntry
	for _, entry := range m.entries {
		if entry.set == set && entry.job.Tenant == tenant {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score < matched[j].score
		}
		return matched[i].sequence < matched[j].sequence
	})
	return matched
}

func (m *MemoryRepository) notifyWake() {
	m.mu.Lock()
	wakes := make([]func(), 0, len(m.wakeSubs))
	for _, wake := range m.wakeSubs {
		wakes = append(wakes, wake)
	}
	m.mu.Unlock()
	for _, wake := range wakes {
		wake()
	}
}

func (m *MemoryRepository) publish(eventType, fp string, job *Job) {
	m.mu.Lock()
	subs := make([]chan ActivityEvent, 0, len(m.activitySubs))
	for _, events := range m.activitySubs {
		subs = append(subs, events)
	}
	m.mu.Unlock()

	event := ActivityEvent{
		Type:        eventType,
		Fingerprint: fp,
		Tenant:      job.Tenant,
		Queue:       job.Queue,
		ID:          job.ID,
	}
	for _, events := range subs {
		select {
		case events <- event:
		default:
			// best-effort delivery, matching pub/sub semantics
		}
	}
}
