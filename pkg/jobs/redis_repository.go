package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/owlmq/owlmq/pkg/observability/logger"
	"github.com/owlmq/owlmq/pkg/observability/tracing"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix           = "owlmq"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultPromoteBatch          = 100
)

var (
	// Scheduled and pending scores encode (runAt, arrival): the low ten
	// bits carry a monotonic insertion sequence so same-millisecond jobs
	// keep FIFO order instead of falling back to lexicographic member
	// order. runAt*1024 stays below 2^53, so the composite is exact in a
	// zset score for any realistic epoch.

	// enqueueScript writes the job hash and places the fingerprint in
	// scheduled or pending. Replacing a live id repositions it; the claim
	// count survives replacement so ack tokens from older generations
	// stay stale.
	//
	// KEYS: 1 job hash, 2 scheduled, 3 pending, 4 processing, 5 ids,
	//       6 tenants, 7 insertion seq
	// ARGV: 1 fp, 2 id, 3 runAt, 4 now, 5 exclusive, 6 queue,
	//       7 job key prefix, 8 tenant, 9 wake channel, 10 activity channel,
	//       11 activity message, 12.. attr field/value pairs
	enqueueScript = redis.NewScript(`
local fp = ARGV[1]
local runAt = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

if redis.call("ZSCORE", KEYS[4], fp) then
  return "locked"
end
if ARGV[5] == "1" then
  local claimed = redis.call("ZRANGE", KEYS[4], 0, -1)
  for _, other in ipairs(claimed) do
    if redis.call("HGET", ARGV[7] .. other, "queue") == ARGV[6] then
      return "locked"
    end
  end
end

local status = "created"
local priorCount = false
if redis.call("SISMEMBER", KEYS[5], ARGV[2]) == 1 then
  status = "replaced"
  priorCount = redis.call("HGET", KEYS[1], "count")
  redis.call("ZREM", KEYS[2], fp)
  redis.call("ZREM", KEYS[3], fp)
  redis.call("DEL", KEYS[1])
end

redis.call("HSET", KEYS[1], unpack(ARGV, 12, #ARGV))
if priorCount then
  redis.call("HSET", KEYS[1], "count", priorCount)
end
redis.call("SADD", KEYS[5], ARGV[2])
redis.call("SADD", KEYS[6], ARGV[8])

local seq = redis.call("INCR", KEYS[7]) % 1024
local score = runAt * 1024 + seq
if runAt <= now then
  redis.call("ZADD", KEYS[3], score, fp)
  redis.call("PUBLISH", ARGV[9], ARGV[6])
else
  redis.call("ZADD", KEYS[2], score, fp)
end
redis.call("PUBLISH", ARGV[10], ARGV[11])
return status
`)

	// promoteDueScript moves due fingerprints from scheduled to pending.
	// The composite score travels with the member, so pending keeps
	// (runAt, arrival) order across the move.
	//
	// KEYS: 1 scheduled, 2 pending
	// ARGV: 1 now, 2 limit, 3 wake channel
	promoteDueScript = redis.NewScript(`
local maxScore = tonumber(ARGV[1]) * 1024 + 1023
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", maxScore, "WITHSCORES", "LIMIT", 0, tonumber(ARGV[2]))
local moved = 0
for index = 1, #due, 2 do
  redis.call("ZADD", KEYS[2], tonumber(due[index + 1]), due[index])
  redis.call("ZREM", KEYS[1], due[index])
  moved = moved + 1
end
if moved > 0 then
  redis.call("PUBLISH", ARGV[3], tostring(moved))
end
return moved
`)

	// claimScript pops the earliest pending fingerprint, bumps the claim
	// generation and registers the processing deadline.
	//
	// KEYS: 1 pending, 2 processing
	// ARGV: 1 now, 2 staleAfter, 3 job key prefix, 4 activity channel
	claimScript = redis.NewScript(`
local head = redis.call("ZRANGE", KEYS[1], 0, 0)
if #head == 0 then
  return false
end
local fp = head[1]
redis.call("ZREM", KEYS[1], fp)

local jobKey = ARGV[3] .. fp
if redis.call("EXISTS", jobKey) == 0 then
  return false
end
local count = redis.call("HINCRBY", jobKey, "count", 1)
redis.call("ZADD", KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), fp)

local msg = fp .. "|" .. (redis.call("HGET", jobKey, "tenant") or "") .. "|" .. (redis.call("HGET", jobKey, "queue") or "") .. "|" .. (redis.call("HGET", jobKey, "id") or "")
redis.call("PUBLISH", ARGV[4], msg)

return {fp, count, redis.call("HGETALL", jobKey)}
`)

	// ackResolveScript is phase one of acknowledge: it verifies the token
	// generation and either finalizes a terminal job or reports that the
	// host must compute the next fire time.
	//
	// KEYS: 1 processing, 2 job hash, 3 ids
	// ARGV: 1 fp, 2 count, 3 dontReschedule, 4 activity channel
	ackResolveScript = redis.NewScript(`
local count = redis.call("HGET", KEYS[2], "count")
if not count or count ~= ARGV[2] then
  return {"stale"}
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return {"stale"}
end

local scheduleType = redis.call("HGET", KEYS[2], "schedule_type")
local maxTimes = tonumber(redis.call("HGET", KEYS[2], "max_times") or "0")
if ARGV[3] ~= "1" and scheduleType and (maxTimes == 0 or tonumber(count) < maxTimes) then
  return {"next", scheduleType, redis.call("HGET", KEYS[2], "schedule_meta") or ""}
end

local msg = ARGV[1] .. "|" .. (redis.call("HGET", KEYS[2], "tenant") or "") .. "|" .. (redis.call("HGET", KEYS[2], "queue") or "") .. "|" .. (redis.call("HGET", KEYS[2], "id") or "")
local id = redis.call("HGET", KEYS[2], "id")
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], id)
redis.call("PUBLISH", ARGV[4], msg)
return {"done"}
`)

	// ackRescheduleScript is phase two: it re-verifies the generation and
	// commits the next fire time computed by the host.
	//
	// KEYS: 1 processing, 2 job hash, 3 scheduled, 4 insertion seq
	// ARGV: 1 fp, 2 count, 3 nextRunAt, 4 now, 5 activity channel
	ackRescheduleScript = redis.NewScript(`
local count = redis.call("HGET", KEYS[2], "count")
if not count or count ~= ARGV[2] then
  return "stale"
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return "stale"
end

redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], "run_at", ARGV[3], "schedule_last", ARGV[4])
local seq = redis.call("INCR", KEYS[4]) % 1024
redis.call("ZADD", KEYS[3], tonumber(ARGV[3]) * 1024 + seq, ARGV[1])

local msg = ARGV[1] .. "|" .. (redis.call("HGET", KEYS[2], "tenant") or "") .. "|" .. (redis.call("HGET", KEYS[2], "queue") or "") .. "|" .. (redis.call("HGET", KEYS[2], "id") or "")
redis.call("PUBLISH", ARGV[5], msg)
return "ok"
`)

	// staleFetchScript returns the job record of one timed-out processing
	// entry, or nothing when the entry is absent or not yet due.
	//
	// KEYS: 1 processing, 2 job hash
	// ARGV: 1 fp, 2 now
	staleFetchScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score then
  return false
end
if tonumber(score) > tonumber(ARGV[2]) then
  return false
end
local attrs = redis.call("HGETALL", KEYS[2])
if #attrs == 0 then
  redis.call("ZREM", KEYS[1], ARGV[1])
  return false
end
return attrs
`)

	// staleRequeueScript commits a retry-aware reclaim back into scheduled.
	//
	// KEYS: 1 processing, 2 job hash, 3 scheduled, 4 insertion seq
	// ARGV: 1 fp, 2 count, 3 nextRetryAt, 4 activity channel
	staleRequeueScript = redis.NewScript(`
local count = redis.call("HGET", KEYS[2], "count")
if not count or count ~= ARGV[2] then
  return "stale"
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return "stale"
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], "run_at", ARGV[3])
local seq = redis.call("INCR", KEYS[4]) % 1024
redis.call("ZADD", KEYS[3], tonumber(ARGV[3]) * 1024 + seq, ARGV[1])

local msg = ARGV[1] .. "|" .. (redis.call("HGET", KEYS[2], "tenant") or "") .. "|" .. (redis.call("HGET", KEYS[2], "queue") or "") .. "|" .. (redis.call("HGET", KEYS[2], "id") or "")
redis.call("PUBLISH", ARGV[4], msg)
return "ok"
`)

	// staleFailScript removes a timed-out job whose retry budget ran out.
	//
	// KEYS: 1 processing, 2 job hash, 3 ids
	// ARGV: 1 fp, 2 count, 3 activity channel
	staleFailScript = redis.NewScript(`
local count = redis.call("HGET", KEYS[2], "count")
if not count or count ~= ARGV[2] then
  return "stale"
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return "stale"
end
local msg = ARGV[1] .. "|" .. (redis.call("HGET", KEYS[2], "tenant") or "") .. "|" .. (redis.call("HGET", KEYS[2], "queue") or "") .. "|" .. (redis.call("HGET", KEYS[2], "id") or "")
local id = redis.call("HGET", KEYS[2], "id")
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], id)
redis.call("PUBLISH", ARGV[3], msg)
return "ok"
`)

	// invokeScript force-promotes a scheduled job into pending.
	//
	// KEYS: 1 scheduled, 2 pending, 3 insertion seq
	// ARGV: 1 fp, 2 now, 3 wake channel, 4 queue
	invokeScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
local seq = redis.call("INCR", KEYS[3]) % 1024
redis.call("ZADD", KEYS[2], tonumber(ARGV[2]) * 1024 + seq, ARGV[1])
redis.call("PUBLISH", ARGV[3], ARGV[4])
return 1
`)

	// deleteScript force-removes a job from every set.
	//
	// KEYS: 1 scheduled, 2 pending, 3 processing, 4 job hash, 5 ids
	// ARGV: 1 fp, 2 id
	deleteScript = redis.NewScript(`
local removed = 0
removed = removed + redis.call("ZREM", KEYS[1], ARGV[1])
removed = removed + redis.call("ZREM", KEYS[2], ARGV[1])
removed = removed + redis.call("ZREM", KEYS[3], ARGV[1])
removed = removed + redis.call("DEL", KEYS[4])
redis.call("SREM", KEYS[5], ARGV[2])
if removed > 0 then
  return 1
end
return 0
`)
)

// RedisRepositoryConfig configures the Redis-backed job repository.
type RedisRepositoryConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PromoteBatch     int
}

func (c *RedisRepositoryConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.PromoteBatch <= 0 {
		c.PromoteBatch = defaultPromoteBatch
	}
}

// RedisRepository implements Repository over Redis sorted sets, hashes
// and Lua scripts, and Notifier over Redis pub/sub.
type RedisRepository struct {
	client    *redis.Client
	log       logger.Logger
	config    RedisRepositoryConfig
	keys      keySpace
	schedules ScheduleMap

	mu     sync.RWMutex
	closed bool
}

// NewRedisRepository connects to Redis and prepares the repository. The
// schedule map may be nil, in which case the built-in types are used.
func NewRedisRepository(cfg RedisRepositoryConfig, schedules ScheduleMap, log logger.Logger) (*RedisRepository, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()
	if schedules == nil {
		schedules = DefaultScheduleMap()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return &RedisRepository{
		client:    client,
		log:       log,
		config:    cfg,
		keys:      newKeySpace(cfg.Prefix),
		schedules: schedules,
	}, nil
}

// Enqueue writes the job record and positions it by run time.
func (r *RedisRepository) Enqueue(ctx context.Context, job *Job) (*EnqueueResult, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, jobsError(ErrValidation, "job is required")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	fp := job.Fingerprint()
	now, err := r.ServerNow(ctx)
	if err != nil {
		return nil, err
	}

	args := []interface{}{
		fp,
		job.ID,
		job.RunAt,
		now,
		boolAttr(job.Exclusive),
		job.Queue,
		r.keys.jobKey(""),
		job.Tenant,
		r.keys.wakeChannel(job.Tenant),
		r.keys.activityChannel(EventEnqueued),
		activityMessage(fp, job.Tenant, job.Queue, job.ID),
	}
	for field, value := range job.toAttrs() {
		args = append(args, field, value)
	}

	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	status, err := r.runScript(opCtx, "enqueue", enqueueScript, []string{
		r.keys.jobKey(fp),
		r.keys.scheduledKey(job.Tenant),
		r.keys.pendingKey(job.Tenant),
		r.keys.processingKey(job.Tenant),
		r.keys.idsKey(job.Tenant, job.Queue),
		r.keys.tenantsKey(),
		r.keys.seqKey(),
	}, args...).Text()
	if err != nil {
		return nil, err
	}
	if status == "locked" {
		return nil, jobsError(ErrQueueLocked, fmt.Sprintf("queue %q has an active exclusive claim", job.Queue))
	}
	recordJobEnqueued(job.Tenant, job.Queue)
	return &EnqueueResult{ID: job.ID, Queue: job.Queue, Status: status}, nil
}

// PromoteDue moves due scheduled jobs into pending.
func (r *RedisRepository) PromoteDue(ctx context.Context, tenant string, now int64, limit int) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = r.config.PromoteBatch
	}

	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	moved, err := r.runScript(opCtx, "promote_due", promoteDueScript, []string{
		r.keys.scheduledKey(tenant),
		r.keys.pendingKey(tenant),
	}, now, limit, r.keys.wakeChannel(tenant)).Int()
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Claim pops one due job for the tenant.
func (r *RedisRepository) Claim(ctx context.Context, tenant string, now int64, staleAfter int64) (*Job, *AckToken, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, nil, err
	}
	if staleAfter <= 0 {
		return nil, nil, jobsError(ErrValidation, "staleAfter must be > 0")
	}

	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	result, err := r.runScript(opCtx, "claim", claimScript, []string{
		r.keys.pendingKey(tenant),
		r.keys.processingKey(tenant),
	}, now, staleAfter, r.keys.jobKey(""), r.keys.activityChannel(EventClaimed)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 3 {
		return nil, nil, fmt.Errorf("unexpected claim script result %T", result)
	}
	fp, _ := parts[0].(string)
	count, err := scriptInt(parts[1])
	if err != nil {
		return nil, nil, err
	}
	attrs, err := scriptAttrs(parts[2])
	if err != nil {
		return nil, nil, err
	}
	job, err := jobFromAttrs(attrs)
	if err != nil {
		return nil, nil, err
	}
	recordJobClaimed(job.Tenant, job.Queue)
	return job, &AckToken{Fingerprint: fp, Count: count}, nil
}

// Acknowledge finalizes a claim, rescheduling repeating jobs via the
// schedule map. The host computes the next fire time between the two
// script phases; both phases verify the token generation.
func (r *RedisRepository) Acknowledge(ctx context.Context, token *AckToken, opts AckOptions) (AckStatus, error) {
	if err := r.ensureOpen(); err != nil {
		return AckStale, err
	}
	if token == nil || strings.TrimSpace(token.Fingerprint) == "" {
		return AckStale, jobsError(ErrValidation, "ack token is required")
	}

	tenant, queue, err := r.identityOf(ctx, token.Fingerprint)
	if err != nil {
		return AckStale, err
	}

	opCtx, cancel := r.operationContext(ctx)
	result, err := r.runScript(opCtx, "ack_resolve", ackResolveScript, []string{
		r.keys.processingKey(tenant),
		r.keys.jobKey(token.Fingerprint),
		r.keys.idsKey(tenant, queue),
	}, token.Fingerprint, token.Count, boolAttr(opts.DontReschedule), r.keys.activityChannel(EventAcknowledged)).Result()
	cancel()
	if err != nil {
		return AckStale, err
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return AckStale, fmt.Errorf("unexpected acknowledge script result %T", result)
	}
	verdict, _ := parts[0].(string)
	switch verdict {
	case "stale":
		return AckStale, nil
	case "done":
		recordJobAcknowledged(tenant)
		return AckDeleted, nil
	case "next":
	default:
		return AckStale, fmt.Errorf("invalid acknowledge verdict %q", verdict)
	}

	scheduleType, _ := parts[1].(string)
	scheduleMeta, _ := parts[2].(string)
	now, err := r.ServerNow(ctx)
	if err != nil {
		return AckStale, err
	}
	next, ok := r.schedules.Next(&Schedule{Type: scheduleType, Meta: scheduleMeta}, now)
	if !ok {
		// The schedule terminated; finalize with the reschedule path
		// disabled so the delete branch runs under the same generation.
		return r.acknowledgeTerminal(ctx, tenant, queue, token)
	}

	opCtx, cancel = r.operationContext(ctx)
	defer cancel()
	verdict, err = r.runScript(opCtx, "ack_reschedule", ackRescheduleScript, []string{
		r.keys.processingKey(tenant),
		r.keys.jobKey(token.Fingerprint),
		r.keys.scheduledKey(tenant),
		r.keys.seqKey(),
	}, token.Fingerprint, token.Count, next, now, r.keys.activityChannel(EventRescheduled)).Text()
	if err != nil {
		return AckStale, err
	}
	if verdict == "stale" {
		return AckStale, nil
	}
	recordJobRescheduled(tenant)
	return AckRescheduled, nil
}

func (r *RedisRepository) acknowledgeTerminal(ctx context.Context, tenant, queue string, token *AckToken) (AckStatus, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	result, err := r.runScript(opCtx, "ack_resolve", ackResolveScript, []string{
		r.keys.processingKey(tenant),
		r.keys.jobKey(token.Fingerprint),
		r.keys.idsKey(tenant, queue),
	}, token.Fingerprint, token.Count, "1", r.keys.activityChannel(EventAcknowledged)).Result()
	if err != nil {
		return AckStale, err
	}
	parts, _ := result.([]interface{})
	if len(parts) > 0 {
		if verdict, _ := parts[0].(string); verdict == "done" {
			recordJobAcknowledged(tenant)
			return AckDeleted, nil
		}
	}
	return AckStale, nil
}

// ReportStale reclaims one timed-out claim.
func (r *RedisRepository) ReportStale(ctx context.Context, tenant, fingerprint string, now int64) (*StaleReport, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}

	opCtx, cancel := r.operationContext(ctx)
	result, err := r.runScript(opCtx, "stale_fetch", staleFetchScript, []string{
		r.keys.processingKey(tenant),
		r.keys.jobKey(fingerprint),
	}, fingerprint, now).Result()
	cancel()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	attrs, err := scriptAttrs(result)
	if err != nil {
		return nil, err
	}
	job, err := jobFromAttrs(attrs)
	if err != nil {
		return nil, err
	}

	report := &StaleReport{
		Tenant:      job.Tenant,
		Queue:       job.Queue,
		ID:          job.ID,
		Fingerprint: fingerprint,
	}

	if delay, hasRetry := job.RetryDelayFor(job.Count); hasRetry {
		nextRetryAt := now + delay
		opCtx, cancel := r.operationContext(ctx)
		defer cancel()
		verdict, err := r.runScript(opCtx, "stale_requeue", staleRequeueScript, []string{
			r.keys.processingKey(tenant),
			r.keys.jobKey(fingerprint),
			r.keys.scheduledKey(tenant),
			r.keys.seqKey(),
		}, fingerprint, job.Count, nextRetryAt, r.keys.activityChannel(EventRescheduled)).Text()
		if err != nil {
			return nil, err
		}
		if verdict == "stale" {
			return nil, nil
		}
		report.Requeued = true
		report.NextRetryAt = nextRetryAt
		recordJobRetried(tenant, job.Queue)
		return report, nil
	}

	opCtx, cancel = r.operationContext(ctx)
	defer cancel()
	verdict, err := r.runScript(opCtx, "stale_fail", staleFailScript, []string{
		r.keys.processingKey(tenant),
		r.keys.jobKey(fingerprint),
		r.keys.idsKey(job.Tenant, job.Queue),
	}, fingerprint, job.Count, r.keys.activityChannel(EventFailed)).Text()
	if err != nil {
		return nil, err
	}
	if verdict == "stale" {
		return nil, nil
	}
	recordJobTimedOut(tenant, job.Queue)
	return report, nil
}

// DueProcessing lists fingerprints whose claim deadline has passed.
func (r *RedisRepository) DueProcessing(ctx context.Context, tenant string, now int64) ([]string, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	return r.client.ZRangeByScore(opCtx, r.keys.processingKey(tenant), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
}

// FindByID returns the live job or nil.
func (r *RedisRepository) FindByID(ctx context.Context, tenant, queue, id string) (*Job, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	attrs, err := r.client.HGetAll(opCtx, r.keys.jobKey(Fingerprint(tenant, queue, id))).Result()
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return jobFromAttrs(attrs)
}

// Delete force-removes the job.
func (r *RedisRepository) Delete(ctx context.Context, tenant, queue, id string) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	fp := Fingerprint(tenant, queue, id)
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	removed, err := r.runScript(opCtx, "delete", deleteScript, []string{
		r.keys.scheduledKey(tenant),
		r.keys.pendingKey(tenant),
		r.keys.processingKey(tenant),
		r.keys.jobKey(fp),
		r.keys.idsKey(tenant, queue),
	}, fp, id).Int()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

// Invoke force-promotes a scheduled job into pending.
func (r *RedisRepository) Invoke(ctx context.Context, tenant, queue, id string) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	now, err := r.ServerNow(ctx)
	if err != nil {
		return false, err
	}
	fp := Fingerprint(tenant, queue, id)
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	moved, err := r.runScript(opCtx, "invoke", invokeScript, []string{
		r.keys.scheduledKey(tenant),
		r.keys.pendingKey(tenant),
		r.keys.seqKey(),
	}, fp, now, r.keys.wakeChannel(tenant), queue).Int()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}

// Tenants lists every tenant that has enqueued at least once.
func (r *RedisRepository) Tenants(ctx context.Context) ([]string, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	return r.client.SMembers(opCtx, r.keys.tenantsKey()).Result()
}

// ServerNow returns Redis server time in epoch milliseconds. The server
// clock is authoritative for stale deadlines so that workers on skewed
// hosts agree.
func (r *RedisRepository) ServerNow(ctx context.Context) (int64, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	serverTime, err := r.client.Time(opCtx).Result()
	if err != nil {
		return 0, err
	}
	return serverTime.UnixMilli(), nil
}

// SubscribeActivity streams lifecycle events over pub/sub. The
// subscription runs on its own connection; subscribed connections cannot
// issue commands.
func (r *RedisRepository) SubscribeActivity(ctx context.Context) (<-chan ActivityEvent, func() error, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, nil, err
	}
	pubsub := r.client.PSubscribe(ctx, r.keys.activityPattern())
	events := make(chan ActivityEvent)

	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			event, ok := parseActivityMessage(r.keys.eventTypeFromChannel(msg.Channel), msg.Payload)
			if !ok {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, pubsub.Close, nil
}

// SubscribeWake invokes wake whenever new work lands in any pending set.
func (r *RedisRepository) SubscribeWake(ctx context.Context, wake func()) (func() error, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if wake == nil {
		return nil, jobsError(ErrValidation, "wake function is required")
	}
	pubsub := r.client.PSubscribe(ctx, r.keys.prefix+":wake:*")

	go func() {
		for range pubsub.Channel() {
			wake()
		}
	}()

	return pubsub.Close, nil
}

// HealthCheck verifies Redis connectivity.
func (r *RedisRepository) HealthCheck(ctx context.Context) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	return r.client.Ping(opCtx).Err()
}

// Close releases the Redis connections.
func (r *RedisRepository) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.client.Close()
}

func (r *RedisRepository) ensureOpen() error {
	if r == nil || r.client == nil {
		return jobsError(ErrNotInitialized, "redis repository is not initialized")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return jobsError(ErrClosed, "redis repository is closed")
	}
	return nil
}

func (r *RedisRepository) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.config.OperationTimeout)
}

func (r *RedisRepository) identityOf(ctx context.Context, fingerprint string) (tenant string, queue string, err error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()
	values, err := r.client.HMGet(opCtx, r.keys.jobKey(fingerprint), AttrTenant, AttrQueue).Result()
	if err != nil {
		return "", "", err
	}
	if len(values) == 2 {
		tenant, _ = values[0].(string)
		queue, _ = values[1].(string)
	}
	return tenant, queue, nil
}

// runScript executes one atomic transition script inside a store span.
// redis.Nil is the scripts' "nothing to do" result, not a failure.
func (r *RedisRepository) runScript(ctx context.Context, name string, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd {
	spanCtx, span := tracing.StartStoreSpan(ctx, name)
	defer span.End()

	cmd := script.Run(spanCtx, r.client, keys, args...)
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	return cmd
}

func boolAttr(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

func activityMessage(fp, tenant, queue, id string) string {
	return fp + "|" + tenant + "|" + queue + "|" + id
}

func parseActivityMessage(eventType, payload string) (ActivityEvent, bool) {
	parts := strings.SplitN(payload, "|", 4)
	if len(parts) != 4 {
		return ActivityEvent{}, false
	}
	return ActivityEvent{
		Type:        eventType,
		Fingerprint: parts[0],
		Tenant:      parts[1],
		Queue:       parts[2],
		ID:          parts[3],
	}, true
}

func scriptInt(value interface{}) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case string:
		return strconv.ParseInt(typed, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script integer %T", value)
	}
}

func scriptAttrs(value interface{}) (map[string]string, error) {
	flat, ok := value.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("unexpected script hash %T", value)
	}
	attrs := make(map[string]string, len(flat)/2)
	for index := 0; index < len(flat); index += 2 {
		field, _ := flat[index].(string)
		fieldValue, _ := flat[index+1].(string)
		attrs[field] = fieldValue
	}
	return attrs, nil
}
