package jobs

import (
	"strconv"
	"strings"
)

// Job attribute names as stored in the backing hash.
const (
	AttrID           = "id"
	AttrQueue        = "queue"
	AttrTenant       = "tenant"
	AttrPayload      = "payload"
	AttrRunAt        = "run_at"
	AttrScheduleType = "schedule_type"
	AttrScheduleMeta = "schedule_meta"
	AttrScheduleLast = "schedule_last"
	AttrRetry        = "retry"
	AttrCount        = "count"
	AttrMaxTimes     = "max_times"
	AttrExclusive    = "exclusive"
)

// Schedule describes a repeating cadence for a job. Type indexes into a
// ScheduleMap; Meta is interpreted by the schedule function. LastFireTime
// is updated by the repository on each fire.
type Schedule struct {
	Type         string
	Meta         string
	LastFireTime int64
}

// Job describes one unit of work. Identity is (Tenant, Queue, ID); a
// re-enqueue with the same identity replaces the live record.
type Job struct {
	ID        string
	Queue     string
	Tenant    string
	Payload   []byte
	RunAt     int64
	Schedule  *Schedule
	Retry     []int64
	Count     int64
	MaxTimes  int64
	Exclusive bool
}

// Validate checks the fields required by queue transitions.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return jobsError(ErrValidation, "job id is required")
	}
	if strings.TrimSpace(j.Queue) == "" {
		return jobsError(ErrValidation, "job queue is required")
	}
	if j.RunAt < 0 {
		return jobsError(ErrValidation, "job run_at must be >= 0")
	}
	if j.Count < 0 {
		return jobsError(ErrValidation, "job count must be >= 0")
	}
	if j.MaxTimes < 0 {
		return jobsError(ErrValidation, "job max_times must be >= 0")
	}
	if j.Schedule != nil && strings.TrimSpace(j.Schedule.Type) == "" {
		return jobsError(ErrValidation, "schedule type is required")
	}
	for _, delay := range j.Retry {
		if delay < 0 {
			return jobsError(ErrValidation, "retry delays must be >= 0")
		}
	}
	return nil
}

// Fingerprint returns the stable backing-store key for the job identity.
func (j *Job) Fingerprint() string {
	return Fingerprint(j.Tenant, j.Queue, j.ID)
}

// RetryDelayFor returns the retry delay for the given claim count, or
// false when the retry sequence is exhausted. Delays are indexed by claim
// count: the first reclaim consumes Retry[0], the second Retry[1], and so
// on, bounded by the sequence length.
func (j *Job) RetryDelayFor(count int64) (int64, bool) {
	if j == nil || count < 1 || count > int64(len(j.Retry)) {
		return 0, false
	}
	return j.Retry[count-1], true
}

// toAttrs encodes the job as the flat string mapping stored in the
// backing hash. The repository owns all coercion: integers in decimal,
// booleans as "0"/"1", retry delays comma-joined.
func (j *Job) toAttrs() map[string]string {
	attrs := map[string]string{
		AttrID:     j.ID,
		AttrQueue:  j.Queue,
		AttrTenant: j.Tenant,
		AttrRunAt:  strconv.FormatInt(j.RunAt, 10),
		AttrCount:  strconv.FormatInt(j.Count, 10),
	}
	if len(j.Payload) > 0 {
		attrs[AttrPayload] = string(j.Payload)
	}
	if j.Schedule != nil {
		attrs[AttrScheduleType] = j.Schedule.Type
		attrs[AttrScheduleMeta] = j.Schedule.Meta
		if j.Schedule.LastFireTime > 0 {
			attrs[AttrScheduleLast] = strconv.FormatInt(j.Schedule.LastFireTime, 10)
		}
	}
	if len(j.Retry) > 0 {
		attrs[AttrRetry] = joinDelays(j.Retry)
	}
	if j.MaxTimes > 0 {
		attrs[AttrMaxTimes] = strconv.FormatInt(j.MaxTimes, 10)
	}
	if j.Exclusive {
		attrs[AttrExclusive] = "1"
	}
	return attrs
}

// jobFromAttrs decodes a backing hash into a job. Round-trips with
// toAttrs for every valid job.
func jobFromAttrs(attrs map[string]string) (*Job, error) {
	if len(attrs) == 0 {
		return nil, jobsError(ErrNotFound, "job record is empty")
	}

	job := &Job{
		ID:     attrs[AttrID],
		Queue:  attrs[AttrQueue],
		Tenant: attrs[AttrTenant],
	}
	if payload, ok := attrs[AttrPayload]; ok {
		job.Payload = []byte(payload)
	}

	var err error
	if job.RunAt, err = parseAttrInt(attrs, AttrRunAt, 0); err != nil {
		return nil, err
	}
	if job.Count, err = parseAttrInt(attrs, AttrCount, 0); err != nil {
		return nil, err
	}
	if job.MaxTimes, err = parseAttrInt(attrs, AttrMaxTimes, 0); err != nil {
		return nil, err
	}
	job.Exclusive = attrs[AttrExclusive] == "1"

	if scheduleType := strings.TrimSpace(attrs[AttrScheduleType]); scheduleType != "" {
		last, lastErr := parseAttrInt(attrs, AttrScheduleLast, 0)
		if lastErr != nil {
			return nil, lastErr
		}
		job.Schedule = &Schedule{
			Type:         scheduleType,
			Meta:         attrs[AttrScheduleMeta],
			LastFireTime: last,
		}
	}

	if raw := strings.TrimSpace(attrs[AttrRetry]); raw != "" {
		if job.Retry, err = splitDelays(raw); err != nil {
			return nil, err
		}
	}

	if validateErr := job.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return job, nil
}

func parseAttrInt(attrs map[string]string, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(attrs[name])
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, jobsError(ErrValidation, "invalid "+name+" attribute "+strconv.Quote(raw))
	}
	return value, nil
}

func joinDelays(delays []int64) string {
	parts := make([]string, 0, len(delays))
	for _, delay := range delays {
		parts = append(parts, strconv.FormatInt(delay, 10))
	}
	return strings.Join(parts, ",")
}

func splitDelays(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	delays := make([]int64, 0, len(parts))
	for _, part := range parts {
		delay, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, jobsError(ErrValidation, "invalid retry delay "+strconv.Quote(part))
		}
		delays = append(delays, delay)
	}
	return delays, nil
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	copied := *job
	if job.Schedule != nil {
		schedule := *job.Schedule
		copied.Schedule = &schedule
	}
	if len(job.Payload) > 0 {
		copied.Payload = append([]byte(nil), job.Payload...)
	}
	if len(job.Retry) > 0 {
		copied.Retry = append([]int64(nil), job.Retry...)
	}
	return &copied
}
